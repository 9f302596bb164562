// redeven-ui-replay feeds a recorded host event stream through the real
// ingestion path (RPC decode, accumulator, store) and checks the resulting
// state against a scenario's expectations. Used to pin down state-engine
// regressions from captured sessions without a live host.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/floegence/flowersec/flowersec-go/rpc"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/floegence/redeven-ui/internal/bridge"
	"github.com/floegence/redeven-ui/internal/store"
	"github.com/floegence/redeven-ui/internal/view"
)

// eventLine is one NDJSON line of the recorded stream.
type eventLine struct {
	TypeID  uint32          `json:"type_id"`
	Payload json.RawMessage `json:"payload"`
	// SleepMs pauses before sending, reproducing recorded pacing.
	SleepMs int `json:"sleep_ms,omitempty"`
}

// scenario is the YAML expectation file checked after replay.
type scenario struct {
	Name   string `yaml:"name"`
	Expect struct {
		Sessions []sessionExpect `yaml:"sessions"`
		Search   *searchExpect   `yaml:"search,omitempty"`
	} `yaml:"expect"`
}

type sessionExpect struct {
	ID         string          `yaml:"id"`
	Status     string          `yaml:"status,omitempty"`
	VersionMin uint64          `yaml:"version_min,omitempty"`
	Groups     int             `yaml:"groups,omitempty"`
	Messages   []messageExpect `yaml:"messages,omitempty"`
}

type messageExpect struct {
	ID       string `yaml:"id"`
	Content  string `yaml:"content,omitempty"`
	Thinking string `yaml:"thinking,omitempty"`
}

type searchExpect struct {
	SessionID string `yaml:"session_id"`
	Query     string `yaml:"query"`
	Matches   int    `yaml:"matches"`
}

type replayReport struct {
	// ReplayID correlates this run's report with its log output.
	ReplayID       string   `json:"replay_id"`
	Status         string   `json:"status"`
	Reasons        []string `json:"reasons,omitempty"`
	EventsSent     int      `json:"events_sent"`
	EventsRejected int      `json:"events_rejected"`
	Sessions       int      `json:"sessions"`
}

func main() {
	eventsPath := flag.String("events", "", "ndjson event stream path")
	scenarioPath := flag.String("scenario", "", "optional scenario yaml with expectations")
	expect := flag.String("expect", "", "optional expectation: pass|fail")
	flushMs := flag.Int("flush-interval-ms", 16, "accumulator flush cadence")
	flag.Parse()

	if strings.TrimSpace(*eventsPath) == "" {
		fatalf("--events is required")
	}

	report, err := runReplay(strings.TrimSpace(*eventsPath), strings.TrimSpace(*scenarioPath), *flushMs)
	if err != nil {
		fatalf("replay failed: %v", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))

	expected := strings.TrimSpace(strings.ToLower(*expect))
	if expected == "" {
		if report.Status != "pass" {
			os.Exit(2)
		}
		return
	}
	if expected != "pass" && expected != "fail" {
		fatalf("invalid --expect: %s", expected)
	}
	if report.Status != expected {
		os.Exit(3)
	}
}

func runReplay(eventsPath, scenarioPath string, flushMs int) (replayReport, error) {
	report := replayReport{ReplayID: uuid.NewString()}

	f, err := os.Open(eventsPath)
	if err != nil {
		return report, err
	}
	defer func() { _ = f.Close() }()

	st := store.New(store.Options{})
	b := bridge.New(bridge.Options{
		Store:         st,
		FlushInterval: time.Duration(flushMs) * time.Millisecond,
	})
	defer b.Close()

	serverConn, clientConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()
	defer func() { _ = clientConn.Close() }()

	router := rpc.NewRouter()
	b.Register(router)
	srv := rpc.NewServer(serverConn, router)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	client := rpc.NewClient(clientConn)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev eventLine
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return report, fmt.Errorf("bad event line: %w", err)
		}
		if ev.SleepMs > 0 {
			time.Sleep(time.Duration(ev.SleepMs) * time.Millisecond)
		}
		if ev.TypeID == 0 {
			continue
		}
		report.EventsSent++
		_, rpcErr, err := client.Call(ctx, ev.TypeID, ev.Payload)
		if err != nil {
			return report, fmt.Errorf("event %d: %w", report.EventsSent, err)
		}
		if rpcErr != nil {
			report.EventsRejected++
		}
	}
	if err := sc.Err(); err != nil {
		return report, err
	}

	// Let pending flush timers fire before inspecting state.
	time.Sleep(2 * time.Duration(flushMs) * time.Millisecond)

	state := st.State()
	report.Sessions = len(state.Sessions)
	report.Status = "pass"

	if scenarioPath == "" {
		return report, nil
	}
	scn, err := loadScenario(scenarioPath)
	if err != nil {
		return report, err
	}
	report.Reasons = evaluate(state, scn)
	if len(report.Reasons) > 0 {
		report.Status = "fail"
	}
	return report, nil
}

func loadScenario(path string) (*scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var scn scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return nil, err
	}
	return &scn, nil
}

func evaluate(state *store.State, scn *scenario) []string {
	var reasons []string
	for _, want := range scn.Expect.Sessions {
		sess := state.Session(want.ID)
		if sess == nil {
			reasons = append(reasons, "missing_session:"+want.ID)
			continue
		}
		if want.Status != "" && string(sess.Status) != want.Status {
			reasons = append(reasons, fmt.Sprintf("status:%s got=%s want=%s", want.ID, sess.Status, want.Status))
		}
		if want.VersionMin > 0 && sess.Version < want.VersionMin {
			reasons = append(reasons, fmt.Sprintf("version:%s got=%d want>=%d", want.ID, sess.Version, want.VersionMin))
		}
		if want.Groups > 0 {
			groups := view.GroupRuns(view.BranchMessages(sess))
			if len(groups) != want.Groups {
				reasons = append(reasons, fmt.Sprintf("groups:%s got=%d want=%d", want.ID, len(groups), want.Groups))
			}
		}
		for _, wm := range want.Messages {
			msg, _ := sess.MessageByID(wm.ID)
			if msg == nil {
				reasons = append(reasons, "missing_message:"+want.ID+"/"+wm.ID)
				continue
			}
			if wm.Content != "" && msg.Content != wm.Content {
				reasons = append(reasons, fmt.Sprintf("content:%s/%s got=%q want=%q", want.ID, wm.ID, msg.Content, wm.Content))
			}
			if wm.Thinking != "" && msg.Thinking != wm.Thinking {
				reasons = append(reasons, fmt.Sprintf("thinking:%s/%s got=%q want=%q", want.ID, wm.ID, msg.Thinking, wm.Thinking))
			}
		}
	}

	if se := scn.Expect.Search; se != nil {
		sess := state.Session(se.SessionID)
		if sess == nil {
			reasons = append(reasons, "missing_session:"+se.SessionID)
		} else {
			res := view.SearchMessages(view.BranchMessages(sess), se.Query, view.DefaultMinQueryLen)
			if res.Total() != se.Matches {
				reasons = append(reasons, fmt.Sprintf("search:%q got=%d want=%d", se.Query, res.Total(), se.Matches))
			}
		}
	}
	return reasons
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[redeven-ui-replay] "+format+"\n", args...)
	os.Exit(1)
}
