package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vapter/vapter/pkg/client"
	"github.com/vapter/vapter/pkg/types"
)

func TestBuildNmapArgs(t *testing.T) {
	tests := []struct {
		name     string
		scanType *types.ScanType
		portList *types.PortList
		want     []string
	}{
		{
			name:     "full service scan",
			scanType: &types.ScanType{},
			want:     []string{"nmap", "-sV", "-O", "-sC", "-T4", "--open", "-oX", "/tmp/out.xml", "192.0.2.10"},
		},
		{
			name:     "discovery only skips port scanning",
			scanType: &types.ScanType{OnlyDiscovery: true, ConsiderAlive: true},
			portList: &types.PortList{TCPPorts: "22,80"},
			want:     []string{"nmap", "-Pn", "-sn", "-oX", "/tmp/out.xml", "192.0.2.10"},
		},
		{
			name:     "quiet scan with tcp ports",
			scanType: &types.ScanType{BeQuiet: true},
			portList: &types.PortList{TCPPorts: "22,80,443"},
			want:     []string{"nmap", "-T2", "-p", "T:22,80,443", "-oX", "/tmp/out.xml", "192.0.2.10"},
		},
		{
			name:     "udp ports enable udp scan",
			scanType: &types.ScanType{},
			portList: &types.PortList{TCPPorts: "53", UDPPorts: "53,161"},
			want: []string{
				"nmap", "-sV", "-O", "-sC", "-T4", "--open",
				"-sU", "-p", "T:53,U:53,161", "-oX", "/tmp/out.xml", "192.0.2.10",
			},
		},
		{
			name:     "consider alive skips host discovery",
			scanType: &types.ScanType{ConsiderAlive: true},
			want:     []string{"nmap", "-Pn", "-sV", "-O", "-sC", "-T4", "--open", "-oX", "/tmp/out.xml", "192.0.2.10"},
		},
		{
			name:     "udp only port list",
			scanType: &types.ScanType{},
			portList: &types.PortList{UDPPorts: "161"},
			want: []string{
				"nmap", "-sV", "-O", "-sC", "-T4", "--open",
				"-sU", "-p", "U:161", "-oX", "/tmp/out.xml", "192.0.2.10",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildNmapArgs(tt.scanType, tt.portList, "192.0.2.10", "/tmp/out.xml")
			assert.Equal(t, tt.want, got)
		})
	}
}

const nmapFixture = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -sV -O -oX out.xml 192.0.2.10" version="7.94">
  <host starttime="1724590001" endtime="1724590042">
    <status state="up" reason="echo-reply"/>
    <address addr="AA:BB:CC:DD:EE:FF" addrtype="mac"/>
    <address addr="192.0.2.10" addrtype="ipv4"/>
    <ports>
      <port protocol="tcp" portid="22">
        <state state="open" reason="syn-ack"/>
        <service name="ssh" product="OpenSSH" version="8.9p1" extrainfo="Ubuntu Linux; protocol 2.0"/>
      </port>
      <port protocol="tcp" portid="80">
        <state state="open" reason="syn-ack"/>
        <service name="http" product="nginx" version="1.24.0"/>
      </port>
      <port protocol="tcp" portid="23">
        <state state="closed" reason="conn-refused"/>
      </port>
    </ports>
    <os>
      <osmatch name="Linux 5.4 - 5.15" accuracy="96">
        <osclass type="general purpose" vendor="Linux" osfamily="Linux" osgen="5.X" accuracy="96"/>
      </osmatch>
      <osmatch name="Linux 4.15" accuracy="91"/>
    </os>
  </host>
</nmaprun>`

func TestParseNmapXML(t *testing.T) {
	parsed, err := ParseNmapXML([]byte(nmapFixture))
	require.NoError(t, err)
	require.Len(t, parsed.Hosts, 1)

	host := parsed.Hosts[0]
	assert.Equal(t, "192.0.2.10", host.Address, "ipv4 address preferred over mac")
	assert.Equal(t, "up", host.Status)

	require.Len(t, host.Ports, 3)
	ssh := host.Ports[0]
	assert.Equal(t, 22, ssh.PortID)
	assert.Equal(t, "tcp", ssh.Protocol)
	assert.Equal(t, "open", ssh.State)
	require.NotNil(t, ssh.Service)
	assert.Equal(t, "ssh", ssh.Service.Name)
	assert.Equal(t, "OpenSSH", ssh.Service.Product)
	assert.Equal(t, "8.9p1", ssh.Service.Version)
	assert.Equal(t, "Ubuntu Linux; protocol 2.0", ssh.Service.ExtraInfo)

	closed := host.Ports[2]
	assert.Equal(t, "closed", closed.State)
	assert.Nil(t, closed.Service)

	require.NotNil(t, host.OS)
	assert.Equal(t, "Linux 5.4 - 5.15", host.OS.Name, "first os match wins")
	assert.Equal(t, 96, host.OS.Accuracy)
	assert.Equal(t, "Linux", host.OS.Vendor)
	assert.Equal(t, "general purpose", host.OS.Type)
	assert.Equal(t, "Linux", host.OS.OSFamily)
	assert.Equal(t, "5.X", host.OS.OSGen)
}

func TestParseNmapXMLEmptyRun(t *testing.T) {
	parsed, err := ParseNmapXML([]byte(`<nmaprun scanner="nmap" version="7.94"></nmaprun>`))
	require.NoError(t, err)
	require.NotNil(t, parsed.Hosts)

	payload, err := json.Marshal(parsed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hosts":[]}`, string(payload))
}

func TestParseNmapXMLRejectsGarbage(t *testing.T) {
	_, err := ParseNmapXML([]byte("this is not xml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid nmap xml")
}

func TestHostAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.5", hostAddress([]nmapXMLAddress{
		{Addr: "AA:BB:CC:DD:EE:FF", AddrType: "mac"},
		{Addr: "10.0.0.5", AddrType: "ipv4"},
	}))
	assert.Equal(t, "fe80::1", hostAddress([]nmapXMLAddress{{Addr: "fe80::1", AddrType: "ipv6"}}))
	assert.Equal(t, "", hostAddress(nil))
}

func TestNmapStageRunUploadsResults(t *testing.T) {
	var patched map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orchestrator/scans/scan-1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode(&types.Scan{ID: "scan-1", TargetID: "target-1", ScanTypeID: "recipe-1"})
		case http.MethodPatch:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			_ = json.NewEncoder(w).Encode(&types.Scan{ID: "scan-1"})
		}
	})
	mux.HandleFunc("/api/orchestrator/scan-types/recipe-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&types.ScanType{ID: "recipe-1", Name: "Full TCP", PortListID: "ports-1"})
	})
	mux.HandleFunc("/api/orchestrator/port-lists/ports-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&types.PortList{ID: "ports-1", TCPPorts: "22,80"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := workerConfig("memory://nmap-stage-test")
	cfg.APIGatewayURL = ts.URL

	stage := NewNmapStage(cfg, client.NewClient(cfg))
	var gotArgs []string
	stage.runTool = func(ctx context.Context, argv []string) error {
		gotArgs = argv
		for i, a := range argv {
			if a == "-oX" {
				return os.WriteFile(argv[i+1], []byte(nmapFixture), 0o644)
			}
		}
		return errors.New("no -oX in argv")
	}

	var statuses []types.EventStatus
	publish := func(status types.EventStatus, message string, progress *int) {
		statuses = append(statuses, status)
	}

	req := &types.StageRequest{ScanID: "scan-1", TargetID: "target-1", TargetHost: "192.0.2.10", Plugin: types.ModuleNmap}
	require.NoError(t, stage.Run(context.Background(), req, publish))

	assert.Equal(t, []types.EventStatus{types.EventParsing}, statuses)
	assert.Contains(t, strings.Join(gotArgs, " "), "-p T:22,80")
	assert.Equal(t, "192.0.2.10", gotArgs[len(gotArgs)-1], "target host is the final argument")

	require.Contains(t, patched, "parsed_nmap_results")
	results, ok := patched["parsed_nmap_results"].(map[string]interface{})
	require.True(t, ok)
	hosts, ok := results["hosts"].([]interface{})
	require.True(t, ok)
	require.Len(t, hosts, 1)
	host, ok := hosts[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "192.0.2.10", host["address"])
}

func TestNmapStageToolFailureDoesNotPatch(t *testing.T) {
	var patchCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orchestrator/scans/scan-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			patchCalls++
		}
		_ = json.NewEncoder(w).Encode(&types.Scan{ID: "scan-1", ScanTypeID: "recipe-1"})
	})
	mux.HandleFunc("/api/orchestrator/scan-types/recipe-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&types.ScanType{ID: "recipe-1"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := workerConfig("memory://nmap-stage-test")
	cfg.APIGatewayURL = ts.URL

	stage := NewNmapStage(cfg, client.NewClient(cfg))
	stage.runTool = func(ctx context.Context, argv []string) error {
		return errors.New("exit status 1: failed to resolve host")
	}

	err := stage.Run(context.Background(), &types.StageRequest{
		ScanID: "scan-1", TargetID: "target-1", TargetHost: "192.0.2.10", Plugin: types.ModuleNmap,
	}, func(types.EventStatus, string, *int) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nmap run failed")
	assert.False(t, IsTransient(err), "tool failures fail the scan instead of requeueing")
	assert.Zero(t, patchCalls)
}

func TestRunCommandCapturesStderr(t *testing.T) {
	err := runCommand(context.Background(), []string{"sh", "-c", "echo kaput >&2; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}
