package steps

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"flowrunner.dev/flowrunner/flowdef"
	"flowrunner.dev/flowrunner/templating"
)

func init() {
	Register("rest", newRestStep)
}

// RestError carries the non-2xx response so callers (and ignore_errors
// regexes) can match against its status and body.
type RestError struct {
	Status int
	Body   any
}

func (e *RestError) Error() string {
	return fmt.Sprintf("REST request failed with status code %d: %v", e.Status, e.Body)
}

type restAuth struct {
	Type   string
	Secret string
	Bearer string
}

type restStep struct {
	Base
	uriTmpl    string
	method     string
	headers    map[string]string
	query      map[string]string
	body       any
	dataKey    string
	auth       *restAuth
	httpClient *resty.Client
}

func newRestStep(def flowdef.Step, fc FlowContext) (Step, error) {
	cfg, err := rawConfig(def, "rest")
	if err != nil {
		return nil, err
	}
	uriTmpl, err := requireString(def, cfg, "uri")
	if err != nil {
		return nil, err
	}
	method, err := requireString(def, cfg, "method")
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if raw, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	query := map[string]string{}
	if raw, ok := cfg["query"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				query[k] = s
			}
		}
	}

	var auth *restAuth
	if rawAuth, ok := cfg["authentication"].(map[string]any); ok {
		authType, _ := rawAuth["type"].(string)
		secret, _ := rawAuth["secret"].(string)
		bearer, _ := rawAuth["bearer"].(string)
		if bearer == "" {
			bearer = "Bearer"
		}
		if authType == "" || secret == "" {
			return nil, fmt.Errorf("%w: step %q: authentication requires type and secret", ErrConstruction, def.Name)
		}
		auth = &restAuth{Type: authType, Secret: secret, Bearer: bearer}
	}

	client := resty.New()
	client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec

	return &restStep{
		Base:       Base{Def: def, FC: fc},
		uriTmpl:    uriTmpl,
		method:     method,
		headers:    headers,
		query:      query,
		body:       cfg["body"],
		dataKey:    optString(cfg, "data_key", ""),
		auth:       auth,
		httpClient: client,
	}, nil
}

func (s *restStep) Process(ctx context.Context, ignoreWhen bool) (Result, error) {
	ok, err := s.PreProcess(ignoreWhen)
	if err != nil || !ok {
		return Result{}, err
	}

	data := s.FC.Blackboard().Raw()
	uri, err := templating.Render(s.uriTmpl, data)
	if err != nil {
		return Result{}, fmt.Errorf("steps: rest step %q: %w", s.Def.Name, err)
	}

	req := s.httpClient.R().SetContext(ctx)
	for k, v := range s.headers {
		req.SetHeader(k, v)
	}
	for k, v := range s.query {
		req.SetQueryParam(k, v)
	}

	if s.auth != nil {
		authHeaders, err := s.authHeaders(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("steps: rest step %q: %w", s.Def.Name, err)
		}
		for k, v := range authHeaders {
			req.SetHeader(k, v)
		}
	}

	body := s.body
	if s.dataKey != "" {
		body, err = s.FC.Blackboard().GetByKey(s.dataKey)
		if err != nil {
			return Result{}, err
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(s.method, uri)
	if err != nil {
		return Result{}, fmt.Errorf("steps: rest step %q: %w", s.Def.Name, err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		var respBody any = string(resp.Body())
		return Result{}, &RestError{Status: resp.StatusCode(), Body: respBody}
	}

	var value any
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &value); err != nil {
			return Result{}, fmt.Errorf("steps: rest step %q: decode response: %w", s.Def.Name, err)
		}
	}

	return s.Finish(value)
}

func (s *restStep) authHeaders(ctx context.Context) (map[string]string, error) {
	secret, err := s.FC.ResolveSecret(ctx, s.auth.Secret)
	if err != nil {
		return nil, err
	}

	switch s.auth.Type {
	case "token":
		token, _ := secret["token"].(string)
		if token == "" {
			return nil, fmt.Errorf("token not found in secret %s", s.auth.Secret)
		}
		return map[string]string{"Authorization": fmt.Sprintf("%s %s", s.auth.Bearer, token)}, nil
	case "basic":
		username, _ := secret["username"].(string)
		password, _ := secret["password"].(string)
		if username == "" || password == "" {
			return nil, fmt.Errorf("username or password missing in secret %s", s.auth.Secret)
		}
		encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		return map[string]string{"Authorization": "Basic " + encoded}, nil
	default:
		return nil, fmt.Errorf("unsupported authentication type: %s", s.auth.Type)
	}
}
