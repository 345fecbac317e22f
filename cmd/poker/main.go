// Command poker is a terminal participant for a grooming session. It
// registers a user over the REST API, joins a session and then speaks
// the realtime protocol like any browser tab would.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/estimation"
	"github.com/lydongcanh/sprintopia/internal/health"
	"github.com/lydongcanh/sprintopia/internal/realtime"
	"github.com/lydongcanh/sprintopia/internal/room"
	"github.com/lydongcanh/sprintopia/internal/session"
)

func main() {
	var (
		server    = flag.String("server", "http://localhost:8080", "backend base URL")
		sessionID = flag.String("session", "", "session id to join; empty creates a new session")
		name      = flag.String("name", "", "your full name")
		email     = flag.String("email", "", "your email")
	)
	flag.Parse()

	if *name == "" || *email == "" {
		fmt.Fprintln(os.Stderr, "both -name and -email are required")
		os.Exit(2)
	}

	log, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *sessionID, *name, *email, log); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server, sessionID, name, email string, log *zap.Logger) error {
	api := &apiClient{base: strings.TrimRight(server, "/"), http: http.DefaultClient}

	user, err := api.createUser(ctx, name, email)
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}

	var sess *session.GroomingSession
	if sessionID == "" {
		sess, err = api.createSession(ctx, name+"'s session")
	} else {
		sess, err = api.getSession(ctx, sessionID)
	}
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if _, err := api.joinSession(ctx, sess.ID, user.ID); err != nil {
		return fmt.Errorf("join session: %w", err)
	}
	fmt.Printf("joined session %q (%s)\n", sess.Name, sess.ID)

	wsURL, err := realtimeURL(server, sess.RealTimeChannelName)
	if err != nil {
		return err
	}
	connect := func(h realtime.Handlers) (realtime.Channel, error) {
		return realtime.Dial(ctx, wsURL, h, log)
	}

	self := estimation.UserInfo{UserID: user.ID, FullName: user.FullName, Email: user.Email}
	r, err := room.Join(ctx, connect, self, room.Options{Logger: log})
	if err != nil {
		return err
	}
	defer r.Close()

	prober := health.NewProber(api.base+"/healthz", func(rep health.Report) {
		if rep.Healthy {
			fmt.Printf("server healthy (%s)\n", rep.Latency)
		} else {
			fmt.Printf("server unreachable: %v\n", rep.Err)
		}
	}, health.Options{Logger: log})
	go prober.Run(ctx)

	go func() {
		for v := range r.Watch() {
			render(v)
		}
	}()

	return repl(ctx, r)
}

func repl(ctx context.Context, r *room.Room) error {
	fmt.Println("commands: start | vote <card> | reveal | deck | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		var err error
		switch fields[0] {
		case "start":
			err = r.StartTurn(ctx)
		case "vote":
			if len(fields) != 2 {
				fmt.Println("usage: vote <card>")
				continue
			}
			var value float64
			value, err = parseCard(fields[1])
			if err == nil {
				err = r.SubmitVote(ctx, value)
			}
		case "reveal":
			err = r.Reveal(ctx)
		case "deck":
			labels := make([]string, 0, len(estimation.Deck)+2)
			for _, v := range estimation.Deck {
				labels = append(labels, estimation.CardLabel(v))
			}
			labels = append(labels, estimation.CardLabel(estimation.ValueUnknown), estimation.CardLabel(estimation.ValueBreak))
			fmt.Println(strings.Join(labels, " "))
			continue
		case "quit":
			return nil
		default:
			fmt.Println("unknown command:", fields[0])
			continue
		}
		if err != nil {
			fmt.Println("!", err)
		}
	}
	return scanner.Err()
}

func parseCard(s string) (float64, error) {
	switch s {
	case "?":
		return estimation.ValueUnknown, nil
	case "break", "☕":
		return estimation.ValueBreak, nil
	case "½":
		return 0.5, nil
	}
	return strconv.ParseFloat(s, 64)
}

func render(v room.View) {
	switch v.Phase {
	case estimation.PhaseIdle:
		fmt.Printf("[idle] %d participant(s) online\n", v.ParticipantCount)
	case estimation.PhaseVoting:
		fmt.Printf("[voting] %d/%d voted", v.VotedCount, v.ParticipantCount)
		if v.HasSubmitted {
			fmt.Print(" (you voted)")
		}
		fmt.Println()
	case estimation.PhaseRevealed:
		fmt.Println("[revealed]")
		for _, g := range v.Summary.Groups {
			fmt.Printf("  %s: %s\n", g.Label, strings.Join(g.Voters, ", "))
		}
		if s := v.Summary.Stats; s != nil {
			verdict := "no consensus"
			if s.HasConsensus {
				verdict = "consensus"
			}
			fmt.Printf("  avg %.1f, median %.1f, spread %.1f (%s)\n",
				s.Average, s.Median, s.Spread, verdict)
		}
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var detail struct {
			Detail json.RawMessage `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, detail.Detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) createUser(ctx context.Context, fullName, email string) (*session.User, error) {
	var u session.User
	err := c.do(ctx, http.MethodPost, "/api/v1/users/",
		map[string]string{"full_name": fullName, "email": email}, &u)
	return &u, err
}

func (c *apiClient) createSession(ctx context.Context, name string) (*session.GroomingSession, error) {
	var s session.GroomingSession
	err := c.do(ctx, http.MethodPost, "/api/v1/grooming-sessions/",
		map[string]string{"name": name}, &s)
	return &s, err
}

func (c *apiClient) getSession(ctx context.Context, id string) (*session.GroomingSession, error) {
	var s session.GroomingSession
	err := c.do(ctx, http.MethodGet, "/api/v1/grooming-sessions/"+id, nil, &s)
	return &s, err
}

func (c *apiClient) joinSession(ctx context.Context, sessionID, userID string) (*session.GroomingSession, error) {
	var s session.GroomingSession
	err := c.do(ctx, http.MethodPut,
		"/api/v1/grooming-sessions/"+sessionID+"/users/"+userID, nil, &s)
	return &s, err
}

// realtimeURL turns the REST base URL into the websocket endpoint for
// a channel.
func realtimeURL(server, channel string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/realtime"
	u.RawQuery = url.Values{"channel": {channel}}.Encode()
	return u.String(), nil
}
