package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"e2e_trace/internal/model"
	"e2e_trace/internal/service/platform"
	"e2e_trace/internal/service/server"

	"github.com/gorilla/websocket"
)

func (c *App) getUser(name string) (*server.UserResponse, error) {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   fmt.Sprintf("/users/%s", name),
	}

	resp, err := c.http.Get(u.String())
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("user %s does not exist", name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get user %s: %s", name, resp.Status)
	}

	var user server.UserResponse
	err = json.NewDecoder(resp.Body).Decode(&user)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func (c *App) initWebhook(name string) (*websocket.Conn, error) {
	params := url.Values{
		"userID": []string{name},
	}

	u := url.URL{
		Scheme:   "ws",
		Host:     c.host,
		Path:     "/init",
		RawQuery: params.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (c *App) postJSON(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   path,
	}

	resp, err := c.http.Post(u.String(), "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}

	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *App) postReport(report model.TraceReport) (*platform.Trace, error) {
	var tr platform.Trace
	err := c.postJSON("/report", &server.ReportRequest{
		Reporter:    model.UserID(c.user.Name),
		TraceReport: report,
	}, &tr)
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *App) postVerify(report model.TraceReport, sender model.UserID) (bool, error) {
	var res server.VerifyResponse
	err := c.postJSON("/report/verify", &server.VerifyRequest{
		Sender:      sender,
		Reporter:    model.UserID(c.user.Name),
		TraceReport: report,
	}, &res)
	if err != nil {
		return false, err
	}
	return res.Valid, nil
}
