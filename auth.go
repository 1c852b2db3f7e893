package matrix

import (
	"context"
	"encoding/json"
	"errors"
)

func supportsFlow(flows RespLoginFlows, flowType string) bool {
	for _, f := range flows.Flows {
		if f.Type == flowType {
			return true
		}
	}
	return false
}

// LoginWithAccessToken is the short-circuit login variant for a caller
// that already holds a valid (user_id, access_token) pair (e.g. from a
// previous session), so no flow discovery or exchange is needed. Like
// every login method, it chains straight to Start once credentials are
// set.
func (c *Client) LoginWithAccessToken(ctx context.Context, userID, accessToken string) *startHandle {
	c.setCredentials(userID, accessToken)
	return c.Start(ctx)
}

// LoginPassword enumerates login flows via GET /login.flows, picks
// "m.login.password" if the server offers it, and POSTs the credentials.
// On success it sets the client's credentials and user id and chains to
// Start, returning the resulting handle.
func (c *Client) LoginPassword(ctx context.Context, userID, password string) (*startHandle, error) {
	var flows RespLoginFlows
	raw, err := c.transport.Get(ctx, "/login.flows", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &flows); err != nil {
		return nil, ProtocolError{Context: "GET /login.flows", Err: err}
	}
	if !supportsFlow(flows, "m.login.password") {
		flowTypes := make([]string, 0, len(flows.Flows))
		for _, f := range flows.Flows {
			flowTypes = append(flowTypes, f.Type)
		}
		return nil, AuthUnsupportedError{Flows: flowTypes}
	}

	raw, err = c.transport.Post(ctx, "/login", ReqLoginPassword{
		Type:     "m.login.password",
		User:     userID,
		Password: password,
	})
	if err != nil {
		var httpErr HTTPError
		if errors.As(err, &httpErr) && httpErr.RespError != nil {
			return nil, AuthRejectedError{RespError: *httpErr.RespError}
		}
		return nil, err
	}
	var resp RespLogin
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ProtocolError{Context: "POST /login", Err: err}
	}
	c.setCredentials(resp.UserID, resp.AccessToken)
	return c.Start(ctx), nil
}

// RegisterPassword drives the register flow, chaining session-bearing
// stages (e.g. m.login.dummy) until a stage returns an access token or no
// offered flow can be satisfied. On success it chains to Start the same
// way LoginPassword does.
func (c *Client) RegisterPassword(ctx context.Context, userID, password string) (*startHandle, error) {
	var flows RespLoginFlows
	raw, err := c.transport.Get(ctx, "/register", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &flows); err != nil {
		return nil, ProtocolError{Context: "GET /register", Err: err}
	}

	var flowType string
	switch {
	case supportsFlow(flows, "m.login.dummy"):
		flowType = "m.login.dummy"
	case supportsFlow(flows, "m.login.password"):
		flowType = "m.login.password"
	default:
		flowTypes := make([]string, 0, len(flows.Flows))
		for _, f := range flows.Flows {
			flowTypes = append(flowTypes, f.Type)
		}
		return nil, AuthUnsupportedError{Flows: flowTypes}
	}

	session := ""
	for {
		raw, err = c.transport.Post(ctx, "/register", ReqLoginPassword{
			Type:     flowType,
			User:     userID,
			Password: password,
			Session:  session,
		})
		if err != nil {
			var httpErr HTTPError
			if errors.As(err, &httpErr) && httpErr.RespError != nil {
				return nil, AuthRejectedError{RespError: *httpErr.RespError}
			}
			return nil, err
		}
		var resp RespRegister
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, ProtocolError{Context: "POST /register", Err: err}
		}
		if resp.AccessToken != "" {
			c.setCredentials(resp.UserID, resp.AccessToken)
			return c.Start(ctx), nil
		}
		if resp.Session == "" || resp.Session == session {
			return nil, AuthRejectedError{RespError: RespError{ErrCode: "M_UNKNOWN", Err: "registration stalled: no further stage offered"}}
		}
		session = resp.Session
	}
}
