package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/gorilla/websocket"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show backend health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out map[string]any
		if err := newClient().do(cmd.Context(), http.MethodGet, "/healthz", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List personas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var personas []struct {
			ID               string `json:"id"`
			Name             string `json:"name"`
			Model            string `json:"model"`
			DailyLimit       int    `json:"dailyLimit"`
			RevealsReasoning bool   `json:"revealsReasoning"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/api/personas", nil, &personas); err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tMODEL\tDAILY\tREASONING")
		for _, p := range personas {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", p.ID, p.Name, p.Model, p.DailyLimit, p.RevealsReasoning)
		}
		return tw.Flush()
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show today's quota for --persona",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out map[string]any
		path := "/api/usage?personaId=" + url.QueryEscape(personaID)
		if err := newClient().do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var (
	sessionID string
	imagePath string
	render    bool
)

var sendCmd = &cobra.Command{
	Use:   "send MESSAGE",
	Short: "Send one message and stream the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient()

		id := sessionID
		if id == "" {
			s, err := c.createSession(ctx, personaID)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			id = s.SessionID
			fmt.Fprintln(os.Stderr, dimStyle.Render("session "+id))
		}

		body := map[string]string{"message": args[0]}
		if imagePath != "" {
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			body["image"] = img
		}
		return streamReply(ctx, c, id, body)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sessionID, "session", "", "reuse an existing session")
	sendCmd.Flags().StringVar(&imagePath, "image", "", "attach an image file")
	sendCmd.Flags().BoolVar(&render, "render", false, "render the finished reply as markdown instead of streaming it")
}

func streamReply(ctx context.Context, c *client, id string, body any) error {
	resp, err := c.open(ctx, http.MethodPost, "/api/stream/"+url.PathEscape(id), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var failed error
	err = readSSE(resp.Body, func(event, data string) error {
		switch event {
		case "delta":
			var d struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(data), &d); err != nil {
				return err
			}
			if !render {
				fmt.Print(d.Delta)
			}
		case "message":
			var m struct {
				Content   string `json:"content"`
				Reasoning string `json:"reasoning"`
			}
			_ = json.Unmarshal([]byte(data), &m)
			if render {
				fmt.Print(renderMarkdown(m.Content))
			} else {
				fmt.Println()
			}
			if m.Reasoning != "" {
				fmt.Fprintln(os.Stderr, reasoningStyle.Render("reasoning: "+m.Reasoning))
			}
		case "emotion":
			var e struct {
				Emotion string `json:"emotion"`
			}
			_ = json.Unmarshal([]byte(data), &e)
			fmt.Fprintln(os.Stderr, emotionStyle.Render("["+e.Emotion+"]"))
		case "error":
			var e struct {
				Error  string `json:"error"`
				Status int    `json:"status"`
			}
			_ = json.Unmarshal([]byte(data), &e)
			failed = &apiError{Status: e.Status, Message: e.Error}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failed
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat over WebSocket; /persona ID switches, /state prints the session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		c := newClient()
		s, err := c.createSession(ctx, personaID)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		wsURL, err := websocketURL(c.base, s.SessionID, c.screen)
		if err != nil {
			return err
		}
		header := http.Header{"User-Agent": []string{userAgent}}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
		if err != nil {
			return fmt.Errorf("dial websocket: %w", err)
		}
		defer conn.Close()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			printFrames(conn)
		}()

		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		for {
			input, err := line.Prompt("you> ")
			if err != nil {
				// Ctrl+C, Ctrl+D
				closeSocket(conn)
				wg.Wait()
				return nil
			}
			input = strings.TrimSpace(input)
			var frame map[string]any
			switch {
			case input == "":
				continue
			case input == "/quit":
				closeSocket(conn)
				wg.Wait()
				return nil
			case input == "/state":
				frame = map[string]any{"type": "state"}
			case strings.HasPrefix(input, "/persona "):
				frame = map[string]any{"type": "persona", "data": map[string]string{"personaId": strings.TrimSpace(strings.TrimPrefix(input, "/persona "))}}
			default:
				frame = map[string]any{"type": "text", "data": map[string]string{"text": input}}
			}
			line.AppendHistory(input)
			if err := conn.WriteJSON(frame); err != nil {
				return err
			}
		}
	},
}

func closeSocket(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func websocketURL(base, id, screen string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/ws/" + url.PathEscape(id)
	u.RawQuery = url.Values{"screen": []string{screen}}.Encode()
	return u.String(), nil
}

func printFrames(conn *websocket.Conn) {
	for {
		var f struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				fmt.Fprintln(os.Stderr, errorStyle.Render("connection closed: "+err.Error()))
			}
			return
		}
		switch f.Type {
		case "delta":
			var d struct {
				Delta string `json:"delta"`
			}
			_ = json.Unmarshal(f.Data, &d)
			fmt.Print(d.Delta)
		case "done":
			var d struct {
				Emotion string `json:"emotion"`
			}
			_ = json.Unmarshal(f.Data, &d)
			fmt.Println()
			fmt.Println(emotionStyle.Render("[" + d.Emotion + "]"))
		case "start":
			var st struct {
				PersonaID string `json:"personaId"`
			}
			_ = json.Unmarshal(f.Data, &st)
			fmt.Print(promptStyle.Render(st.PersonaID + "> "))
		case "error":
			fmt.Fprintln(os.Stderr, errorStyle.Render(string(f.Data)))
		default:
			fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("[%s] %s", f.Type, f.Data)))
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
