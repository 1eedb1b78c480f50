package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/travai/travai/internal/flow"
	"github.com/travai/travai/internal/models"
	"github.com/travai/travai/internal/onboarding"
	"github.com/travai/travai/internal/session"
	"github.com/travai/travai/internal/util"
	"github.com/urfave/cli/v2"
)

const (
	replyTimeout = 30 * time.Second
	// meetJoinURL opens a room in LiveKit's hosted web client.
	meetJoinURL = "https://meet.livekit.io/custom"
)

func loadPrompts(c *cli.Context) ([]onboarding.Prompt, error) {
	path := c.String("script")
	if path == "" {
		return onboarding.DefaultPrompts(), nil
	}
	prompts, err := onboarding.LoadScript(path)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return prompts, nil
}

func roomAndName(c *cli.Context) (string, string) {
	room, name := c.String("room"), c.String("name")
	if room == "" {
		room = util.GenerateRoomName()
	}
	if name == "" {
		name = util.GenerateParticipantName()
	}
	return room, name
}

func printReply(out io.Writer, text string, progress float64, complete bool) {
	fmt.Fprintf(out, "Assistant: %s\n", text)
	if complete {
		fmt.Fprintln(out, "[onboarding complete]")
		return
	}
	fmt.Fprintf(out, "[progress %d%%]\n", flow.DisplayPercent(progress))
}

// readAnswer prompts and returns the next line with surrounding space
// trimmed. A blank line is submitted as an empty answer. ok is false at EOF.
func readAnswer(out io.Writer, sc *bufio.Scanner) (string, bool) {
	fmt.Fprint(out, "> ")
	if !sc.Scan() {
		fmt.Fprintln(out)
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

func onboardAction(c *cli.Context) error {
	if c.Bool("remote") {
		room, name := roomAndName(c)
		return onboardRemote(c.Context, c.App.Reader, c.App.Writer, c.String("server"), room, name)
	}
	prompts, err := loadPrompts(c)
	if err != nil {
		return err
	}
	return onboardLocal(c.Context, c.App.Reader, c.App.Writer, prompts)
}

// onboardLocal runs the conversation against an in-process driver with
// simulated speech, so typed lines stand in for transcribed audio.
func onboardLocal(ctx context.Context, in io.Reader, out io.Writer, prompts []onboarding.Prompt) error {
	d := flow.NewDriver("local", flow.WithPrompts(prompts))
	turn, err := d.Start(ctx)
	if err != nil {
		return err
	}
	printReply(out, turn.Reply, turn.Progress, turn.Complete)

	sc := bufio.NewScanner(in)
	for !turn.Complete {
		line, ok := readAnswer(out, sc)
		if !ok {
			return sc.Err()
		}
		if turn, err = d.HandleText(ctx, line); err != nil {
			return err
		}
		printReply(out, turn.Reply, turn.Progress, turn.Complete)
	}
	printAnswers(out, d.Answers(), prompts)
	return nil
}

func printAnswers(out io.Writer, answers map[string]string, prompts []onboarding.Prompt) {
	fmt.Fprintln(out, "\nYour answers:")
	for _, p := range prompts {
		fmt.Fprintf(out, "  %s: %s\n", p.ID, answers[p.ID])
	}
}

// onboardRemote joins the server's data channel with a freshly minted token.
func onboardRemote(ctx context.Context, in io.Reader, out io.Writer, server, room, name string) error {
	tok, err := session.NewTokenClient(server).Fetch(ctx, models.TokenRequest{RoomName: room, ParticipantName: name})
	if err != nil {
		return withRemediation(err)
	}
	wsURL, err := session.DataChannelURL(server)
	if err != nil {
		return err
	}

	r := session.NewRoom(session.NewWebsocketTransport())
	frames := make(chan models.DataMessage, 16)
	failed := make(chan error, 1)
	r.OnData(func(m models.DataMessage) { frames <- m })
	r.OnStateChange(func(state session.ConnectionState, err error) {
		if state == session.StateError {
			select {
			case failed <- err:
			default:
			}
		}
	})

	if err := r.Connect(ctx, wsURL, tok.Token); err != nil {
		return withRemediation(err)
	}
	defer r.Disconnect()
	fmt.Fprintf(out, "Connected to room %s as %s\n", room, name)
	if err := r.SetMicrophoneEnabled(false); err != nil {
		return err
	}

	sc := bufio.NewScanner(in)
	for {
		m, err := nextFrame(ctx, frames, failed)
		if err != nil {
			return err
		}
		if m.Type == models.DataTypeError {
			fmt.Fprintf(out, "Server error: %s\n", m.Text)
		} else {
			printReply(out, m.Text, m.Progress, m.Complete)
			if m.Complete {
				return nil
			}
		}

		line, ok := readAnswer(out, sc)
		if !ok {
			return sc.Err()
		}
		if err := r.SendText(line); err != nil {
			return err
		}
	}
}

func nextFrame(ctx context.Context, frames <-chan models.DataMessage, failed <-chan error) (models.DataMessage, error) {
	timer := time.NewTimer(replyTimeout)
	defer timer.Stop()
	select {
	case m := <-frames:
		return m, nil
	case err := <-failed:
		return models.DataMessage{}, withRemediation(err)
	case <-timer.C:
		return models.DataMessage{}, errors.New("timed out waiting for the assistant")
	case <-ctx.Done():
		return models.DataMessage{}, ctx.Err()
	}
}

// withRemediation appends the suggested fix carried by a ConnectionError.
func withRemediation(err error) error {
	var ce *session.ConnectionError
	if errors.As(err, &ce) && ce.Remediation != "" {
		return fmt.Errorf("%w\n%s", err, ce.Remediation)
	}
	return err
}

func tokenAction(c *cli.Context) error {
	room, name := roomAndName(c)
	tok, err := session.NewTokenClient(c.String("server")).Fetch(c.Context, models.TokenRequest{
		RoomName:        room,
		ParticipantName: name,
		Metadata:        c.String("metadata"),
	})
	if err != nil {
		return withRemediation(err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Room:        %s\nParticipant: %s\nURL:         %s\nToken:       %s\n", room, name, tok.URL, tok.Token)
	if c.Bool("no-qr") {
		return nil
	}
	link := joinLink(tok.URL, tok.Token)
	fmt.Fprintf(out, "\nScan to join (%s):\n", link)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, out)
	return nil
}

func joinLink(serverURL, token string) string {
	q := url.Values{}
	q.Set("liveKitUrl", serverURL)
	q.Set("token", token)
	return meetJoinURL + "?" + q.Encode()
}

func scriptAction(c *cli.Context) error {
	var (
		prompts []onboarding.Prompt
		err     error
	)
	if c.Bool("remote") {
		prompts, err = fetchScript(c.Context, c.String("server"))
	} else {
		prompts, err = loadPrompts(c)
	}
	if err != nil {
		return err
	}
	for i, p := range prompts {
		fmt.Fprintf(c.App.Writer, "%d. [%s] %s\n", i+1, p.ID, p.QuestionText)
	}
	return nil
}

func fetchScript(ctx context.Context, server string) ([]onboarding.Prompt, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/onboarding/script", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch script: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string              `json:"status"`
		Message string              `json:"message"`
		Result  []onboarding.Prompt `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch script: status %d: %s", resp.StatusCode, body.Message)
	}
	return body.Result, nil
}
