package worker

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// gmpExchangeTimeout caps one command/response exchange. Report
// fetches dominate it; polls finish in milliseconds.
const gmpExchangeTimeout = 5 * time.Minute

// Engine task statuses the pipeline reacts to. Anything else keeps
// the poll loop running until the wall-clock cap.
const (
	engineStatusRequested     = "Requested"
	engineStatusDone          = "Done"
	engineStatusStopped       = "Stopped"
	engineStatusStopRequested = "Stop Requested"
)

// gmpClient speaks the engine's XML management protocol over its unix
// socket. One client drives one task lifecycle; connections are not
// shared between scans.
type gmpClient struct {
	conn net.Conn
	dec  *xml.Decoder
}

// dialGMP connects to the engine daemon's socket
func dialGMP(ctx context.Context, socketPath string) (*gmpClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine socket %s: %w", socketPath, err)
	}
	return newGMPClient(conn), nil
}

// newGMPClient wraps an established engine connection
func newGMPClient(conn net.Conn) *gmpClient {
	return &gmpClient{conn: conn, dec: xml.NewDecoder(conn)}
}

func (c *gmpClient) Close() error {
	return c.conn.Close()
}

// roundTrip sends one command and decodes the engine's next response
// element into resp. The protocol is strictly request/response, so one
// decoder per connection suffices.
func (c *gmpClient) roundTrip(ctx context.Context, command, resp interface{}) error {
	deadline := time.Now().Add(gmpExchangeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("engine deadline failed: %w", err)
	}

	payload, err := xml.Marshal(command)
	if err != nil {
		return fmt.Errorf("failed to encode engine command: %w", err)
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("engine write failed: %w", err)
	}
	if err := c.dec.Decode(resp); err != nil {
		return fmt.Errorf("engine read failed: %w", err)
	}
	return nil
}

// gmpStatus carries the status attributes every engine response has
type gmpStatus struct {
	Status     string `xml:"status,attr"`
	StatusText string `xml:"status_text,attr"`
}

// check returns an error for non-2xx engine statuses
func (s gmpStatus) check() error {
	if strings.HasPrefix(s.Status, "2") {
		return nil
	}
	return fmt.Errorf("engine returned %s: %s", s.Status, s.StatusText)
}

// gmpEntityRef names an engine object by id attribute
type gmpEntityRef struct {
	ID string `xml:"id,attr"`
}

// gmpProgress tolerates the per-host children the engine nests inside
// its progress element.
type gmpProgress int

func (p *gmpProgress) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var raw struct {
		Chardata string `xml:",chardata"`
	}
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	s := leadingInt(raw.Chardata)
	if s == "" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid progress %q", raw.Chardata)
	}
	*p = gmpProgress(n)
	return nil
}

// leadingInt returns the first integer token of mixed element text
func leadingInt(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func (c *gmpClient) authenticate(ctx context.Context, username, password string) error {
	command := struct {
		XMLName  xml.Name `xml:"authenticate"`
		Username string   `xml:"credentials>username"`
		Password string   `xml:"credentials>password"`
	}{Username: username, Password: password}

	var resp struct {
		XMLName xml.Name `xml:"authenticate_response"`
		gmpStatus
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return err
	}
	return resp.check()
}

// createTarget registers the host under the engine's port list and
// returns the engine-side target id.
func (c *gmpClient) createTarget(ctx context.Context, name, host, portListID string) (string, error) {
	command := struct {
		XMLName  xml.Name      `xml:"create_target"`
		Name     string        `xml:"name"`
		Hosts    string        `xml:"hosts"`
		PortList *gmpEntityRef `xml:"port_list"`
	}{Name: name, Hosts: host}
	if portListID != "" {
		command.PortList = &gmpEntityRef{ID: portListID}
	}

	var resp struct {
		XMLName xml.Name `xml:"create_target_response"`
		gmpStatus
		ID string `xml:"id,attr"`
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return "", err
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	return resp.ID, nil
}

// createTask binds the target to the scan config and scanner
func (c *gmpClient) createTask(ctx context.Context, name, configID, targetID, scannerID string) (string, error) {
	command := struct {
		XMLName xml.Name     `xml:"create_task"`
		Name    string       `xml:"name"`
		Config  gmpEntityRef `xml:"config"`
		Target  gmpEntityRef `xml:"target"`
		Scanner gmpEntityRef `xml:"scanner"`
	}{
		Name:    name,
		Config:  gmpEntityRef{ID: configID},
		Target:  gmpEntityRef{ID: targetID},
		Scanner: gmpEntityRef{ID: scannerID},
	}

	var resp struct {
		XMLName xml.Name `xml:"create_task_response"`
		gmpStatus
		ID string `xml:"id,attr"`
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return "", err
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return resp.ID, nil
}

// startTask launches the task and returns the report id the engine
// will write findings into.
func (c *gmpClient) startTask(ctx context.Context, taskID string) (string, error) {
	command := struct {
		XMLName xml.Name `xml:"start_task"`
		TaskID  string   `xml:"task_id,attr"`
	}{TaskID: taskID}

	var resp struct {
		XMLName xml.Name `xml:"start_task_response"`
		gmpStatus
		ReportID string `xml:"report_id"`
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return "", err
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("start task: %w", err)
	}
	return resp.ReportID, nil
}

// taskStatus reports the engine's status string and progress percent
func (c *gmpClient) taskStatus(ctx context.Context, taskID string) (string, int, error) {
	command := struct {
		XMLName xml.Name `xml:"get_tasks"`
		TaskID  string   `xml:"task_id,attr"`
	}{TaskID: taskID}

	var resp struct {
		XMLName xml.Name `xml:"get_tasks_response"`
		gmpStatus
		Task struct {
			Status   string      `xml:"status"`
			Progress gmpProgress `xml:"progress"`
		} `xml:"task"`
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return "", 0, err
	}
	if err := resp.check(); err != nil {
		return "", 0, fmt.Errorf("get task: %w", err)
	}
	return resp.Task.Status, int(resp.Task.Progress), nil
}

// stopTask asks the engine to abandon a running task
func (c *gmpClient) stopTask(ctx context.Context, taskID string) error {
	command := struct {
		XMLName xml.Name `xml:"stop_task"`
		TaskID  string   `xml:"task_id,attr"`
	}{TaskID: taskID}

	var resp struct {
		XMLName xml.Name `xml:"stop_task_response"`
		gmpStatus
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return err
	}
	return resp.check()
}

// fetchReport pulls the complete report XML, unpaginated
func (c *gmpClient) fetchReport(ctx context.Context, reportID string) (string, error) {
	command := struct {
		XMLName  xml.Name `xml:"get_reports"`
		ReportID string   `xml:"report_id,attr"`
		Filter   string   `xml:"filter,attr"`
		Details  string   `xml:"details,attr"`
	}{ReportID: reportID, Filter: "rows=-1", Details: "1"}

	var resp struct {
		XMLName xml.Name `xml:"get_reports_response"`
		gmpStatus
		Report *struct {
			Inner []byte `xml:",innerxml"`
		} `xml:"report"`
	}
	if err := c.roundTrip(ctx, command, &resp); err != nil {
		return "", err
	}
	if err := resp.check(); err != nil {
		return "", fmt.Errorf("get report: %w", err)
	}
	if resp.Report == nil {
		return "", fmt.Errorf("engine returned no report for %s", reportID)
	}
	return "<report>" + string(resp.Report.Inner) + "</report>", nil
}
