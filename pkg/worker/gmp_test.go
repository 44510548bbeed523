package worker

import (
	"context"
	"encoding/xml"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine answers protocol exchanges over the server half of a pipe
type fakeEngine struct {
	conn net.Conn
	dec  *xml.Decoder
}

func newFakeEngine() (*gmpClient, *fakeEngine) {
	clientConn, serverConn := net.Pipe()
	return newGMPClient(clientConn), &fakeEngine{conn: serverConn, dec: xml.NewDecoder(serverConn)}
}

// expect decodes the next command into cmd and answers with response
func (e *fakeEngine) expect(cmd interface{}, response string) <-chan error {
	done := make(chan error, 1)
	go func() {
		if err := e.dec.Decode(cmd); err != nil {
			done <- err
			return
		}
		_, err := e.conn.Write([]byte(response))
		done <- err
	}()
	return done
}

// script answers a fixed sequence of exchanges without inspecting them
func (e *fakeEngine) script(responses ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		for _, response := range responses {
			if err := e.skipCommand(); err != nil {
				done <- err
				return
			}
			if _, err := e.conn.Write([]byte(response)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	return done
}

// skipCommand consumes one complete command element
func (e *fakeEngine) skipCommand() error {
	for {
		tok, err := e.dec.Token()
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.StartElement); ok {
			return e.dec.Skip()
		}
	}
}

func TestGMPAuthenticate(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	var cmd struct {
		XMLName  xml.Name `xml:"authenticate"`
		Username string   `xml:"credentials>username"`
		Password string   `xml:"credentials>password"`
	}
	done := engine.expect(&cmd, `<authenticate_response status="200" status_text="OK"/>`)

	require.NoError(t, gmp.authenticate(context.Background(), "admin", "s3cret"))
	require.NoError(t, <-done)
	assert.Equal(t, "admin", cmd.Username)
	assert.Equal(t, "s3cret", cmd.Password)
}

func TestGMPAuthenticateRejected(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	done := engine.script(`<authenticate_response status="400" status_text="Authentication failed"/>`)

	err := gmp.authenticate(context.Background(), "admin", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Authentication failed")
	require.NoError(t, <-done)
}

func TestGMPCreateTargetReturnsID(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	var cmd struct {
		XMLName  xml.Name `xml:"create_target"`
		Name     string   `xml:"name"`
		Hosts    string   `xml:"hosts"`
		PortList struct {
			ID string `xml:"id,attr"`
		} `xml:"port_list"`
	}
	done := engine.expect(&cmd, `<create_target_response status="201" status_text="OK, resource created" id="tgt-1"/>`)

	id, err := gmp.createTarget(context.Background(), "vapter-scan-1", "192.0.2.10", "pl-1")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "tgt-1", id)
	assert.Equal(t, "vapter-scan-1", cmd.Name)
	assert.Equal(t, "192.0.2.10", cmd.Hosts)
	assert.Equal(t, "pl-1", cmd.PortList.ID)
}

func TestGMPCreateTaskReturnsID(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	var cmd struct {
		XMLName xml.Name `xml:"create_task"`
		Name    string   `xml:"name"`
		Config  struct {
			ID string `xml:"id,attr"`
		} `xml:"config"`
		Target struct {
			ID string `xml:"id,attr"`
		} `xml:"target"`
		Scanner struct {
			ID string `xml:"id,attr"`
		} `xml:"scanner"`
	}
	done := engine.expect(&cmd, `<create_task_response status="201" status_text="OK, resource created" id="task-1"/>`)

	id, err := gmp.createTask(context.Background(), "vapter-scan-1", "cfg-1", "tgt-1", "scn-1")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, "cfg-1", cmd.Config.ID)
	assert.Equal(t, "tgt-1", cmd.Target.ID)
	assert.Equal(t, "scn-1", cmd.Scanner.ID)
}

func TestGMPStartTaskReturnsReportID(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	done := engine.script(`<start_task_response status="202" status_text="OK, request submitted"><report_id>rep-1</report_id></start_task_response>`)

	reportID, err := gmp.startTask(context.Background(), "task-1")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "rep-1", reportID)
}

func TestGMPTaskStatusToleratesHostProgress(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	done := engine.script(`<get_tasks_response status="200" status_text="OK">` +
		`<task id="task-1"><status>Running</status>` +
		`<progress>42<host_progress><host>192.0.2.10</host>42</host_progress></progress>` +
		`</task></get_tasks_response>`)

	status, progress, err := gmp.taskStatus(context.Background(), "task-1")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "Running", status)
	assert.Equal(t, 42, progress)
}

func TestGMPFetchReportRewrapsEnvelope(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	done := engine.script(`<get_reports_response status="200" status_text="OK">` +
		`<report id="rep-1" format_id="a994b278-1f62-11e1-96ac-406186ea4fc5">` +
		`<report id="rep-1"><results start="1" max="-1">` +
		`<result id="res-1"><severity>7.5</severity></result>` +
		`</results></report></report></get_reports_response>`)

	report, err := gmp.fetchReport(context.Background(), "rep-1")
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.True(t, strings.HasPrefix(report, "<report>"))
	assert.Contains(t, report, `<severity>7.5</severity>`)
	assert.Contains(t, report, `<results start="1" max="-1">`)
}

func TestGMPFetchReportMissing(t *testing.T) {
	gmp, engine := newFakeEngine()
	defer gmp.Close()

	done := engine.script(`<get_reports_response status="200" status_text="OK"/>`)

	_, err := gmp.fetchReport(context.Background(), "rep-404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no report")
	require.NoError(t, <-done)
}

func TestGMPStatusCheck(t *testing.T) {
	assert.NoError(t, gmpStatus{Status: "200", StatusText: "OK"}.check())
	assert.NoError(t, gmpStatus{Status: "201", StatusText: "OK, resource created"}.check())

	err := gmpStatus{Status: "404", StatusText: "Failed to find task"}.check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "Failed to find task")
}

func TestLeadingInt(t *testing.T) {
	assert.Equal(t, "42", leadingInt("42"))
	assert.Equal(t, "42", leadingInt(" 42 hosts"))
	assert.Equal(t, "7", leadingInt("7"))
	assert.Equal(t, "", leadingInt(""))
	assert.Equal(t, "", leadingInt("pending"))
}
