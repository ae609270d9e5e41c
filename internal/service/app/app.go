package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"e2e_trace/internal/model"
	userRepo "e2e_trace/internal/repository/user"
	"e2e_trace/internal/service/platform"
	"e2e_trace/internal/service/redis"
	"e2e_trace/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	cmdForward = "/fwd"
	cmdReport  = "/report"
	cmdVerify  = "/verify"
)

var errNothingReceived = errors.New("nothing received yet")

type (
	App struct {
		app     *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		host string
		http *http.Client

		redisService *redis.RedisService

		userRepo *userRepo.UserRepo
		user     *model.User
		ik       model.IdentityKey

		toName string

		mu   sync.Mutex
		last *model.Envelope

		connMu sync.Mutex
		conn   *websocket.Conn
	}
)

func NewApp(host string, userRepo *userRepo.UserRepo, redis *redis.RedisService) *App {
	return &App{
		app:          tview.NewApplication(),
		host:         host,
		http:         &http.Client{Timeout: 30 * time.Second},
		userRepo:     userRepo,
		redisService: redis,
	}
}

func (c *App) Run(ctx context.Context, name, toName string) {
	user, err := c.getUserAndCreateIfNotExist(ctx, name)
	if err != nil {
		log.Fatal("get user info failed", zap.Error(err))
	}
	ik, ok := user.Key()
	if !ok {
		log.Fatal("stored identity key is malformed", zap.String("user", name))
	}
	c.user = user
	c.ik = ik

	if toName == "" {
		fmt.Print("Enter recipient's name: ")
		_, err = fmt.Scan(&toName) // reads until whitespace
		if err != nil {
			fmt.Println("error:", err)
			return
		}
	}
	c.toName = toName

	if _, err := c.getUser(c.toName); err != nil {
		log.Fatal("cannot chat with recipient", zap.Error(err))
	}

	last, err := c.GetLastReceived(ctx, c.user.Name)
	if err != nil {
		log.Error("load last received message failed", zap.Error(err))
	}
	c.last = last

	c.conn, err = c.initWebhook(c.user.Name)
	if err != nil {
		log.Fatal("init webhook to server failed", zap.Error(err))
	}

	go c.listenOnWebhook()
	c.renderUI()
}

func (c *App) Stop() {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last != nil {
		if err := c.SaveLastReceived(context.TODO(), c.user.Name, last); err != nil {
			log.Error("save last received message failed", zap.Error(err))
		}
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.app.Stop()
}

// blocking function
func (c *App) renderUI() {
	c.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", c.toName))

	c.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(fmt.Sprintf(" New Message (%s, %s, %s) ", cmdForward, cmdReport, cmdVerify))

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(c.input.GetText())
		if text == "" {
			return
		}
		c.input.SetText("")

		go func(line string) {
			if err := c.handleInput(line); err != nil {
				c.print("[red]error:[-] %s", tview.Escape(err.Error()))
				log.Error("command failed", zap.String("input", line), zap.Error(err))
			}
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.chatbox, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	if err := c.app.SetRoot(layout, true).SetFocus(c.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (c *App) handleInput(line string) error {
	switch line {
	case cmdForward:
		return c.ForwardLast()
	case cmdReport:
		return c.ReportLast()
	case cmdVerify:
		return c.VerifyLast()
	default:
		return c.SendMessage(line)
	}
}

func (c *App) print(format string, args ...any) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintf(c.chatbox, format+"\n", args...)
		c.chatbox.ScrollToEnd()
	})
}

func (c *App) listenOnWebhook() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("worker web socket closed", zap.Error(err))
			c.conn.Close()
			break
		}

		var envelope model.Envelope
		err = json.Unmarshal(data, &envelope)
		if err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}

		c.ReceiveMessage(&envelope)
	}
}

// SendMessage starts a new message to the current recipient.
func (c *App) SendMessage(msg string) error {
	if err := c.send([]byte(msg), nil); err != nil {
		return err
	}
	c.print("[yellow]You:[-] %s", tview.Escape(msg))
	return nil
}

// ForwardLast forwards the last received message to the current recipient.
func (c *App) ForwardLast() error {
	last := c.lastReceived()
	if last == nil {
		return errNothingReceived
	}
	if err := c.send(last.Packet.Payload, &last.Packet.TagKey); err != nil {
		return err
	}
	c.print("[yellow]You forwarded:[-] %s", tview.Escape(string(last.Packet.Payload)))
	return nil
}

func (c *App) send(payload []byte, prev *model.TagKey) error {
	to := model.UserID(c.toName)
	packet, tag, err := platform.SendTo(payload, prev, c.ik, to)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(&model.Envelope{
		From:   model.UserID(c.user.Name),
		To:     to,
		Tag:    tag,
		Packet: packet,
	})
}

func (c *App) ReceiveMessage(envelope *model.Envelope) {
	line, verified := receivedLine(envelope)
	if verified {
		c.mu.Lock()
		c.last = envelope
		c.mu.Unlock()
	}
	c.print("%s", line)
}

// receivedLine renders an incoming envelope for the chat box and reports
// whether its packet verified.
func receivedLine(envelope *model.Envelope) (string, bool) {
	if envelope == nil || envelope.Packet == nil {
		log.Warn("received envelope without packet")
		from := model.UserID("unknown")
		if envelope != nil && envelope.From != "" {
			from = envelope.From
		}
		return fmt.Sprintf("[green]%s:[-] [red]empty message[-]", tview.Escape(string(from))), false
	}

	verified := platform.Receive(envelope.Packet)
	mark := "[green]verified[-]"
	if !verified {
		mark = "[red]unverified[-]"
	}
	return fmt.Sprintf("[green]%s:[-] %s (%s)", tview.Escape(string(envelope.From)), tview.Escape(string(envelope.Packet.Payload)), mark), verified
}

func (c *App) lastReceived() *model.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// ReportLast traces the last received message.
func (c *App) ReportLast() error {
	last := c.lastReceived()
	if last == nil {
		return errNothingReceived
	}
	tr, err := c.postReport(model.TraceReport{TagKey: last.Packet.TagKey, Message: last.Packet.Payload})
	if err != nil {
		return err
	}
	c.print("%s", tview.Escape(renderTrace(tr)))
	return nil
}

// VerifyLast checks only the edge the last message arrived over.
func (c *App) VerifyLast() error {
	last := c.lastReceived()
	if last == nil {
		return errNothingReceived
	}
	ok, err := c.postVerify(model.TraceReport{TagKey: last.Packet.TagKey, Message: last.Packet.Payload}, last.From)
	if err != nil {
		return err
	}
	c.print("report from %s verified: %t", last.From, ok)
	return nil
}

// renderTrace lists the traced edges in discovery order, followed by the
// confidence per user when the server computed one.
func renderTrace(tr *platform.Trace) string {
	var b strings.Builder
	g := tr.Graph
	if g == nil || g.Empty() {
		b.WriteString("trace: no forwards found")
		return b.String()
	}

	fmt.Fprintf(&b, "trace: %d edges in %d rounds", len(g.Edges), g.Rounds)
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "\n  %s -> %s (%s, round %d)", e.Sender, e.Receiver, e.Direction, e.Round)
	}
	if len(g.Ambiguous) > 0 {
		fmt.Fprintf(&b, "\n  %d node(s) with more than one candidate sender", len(g.Ambiguous))
	}

	if tr.Confidence != nil {
		users := make([]string, 0, len(tr.Confidence.Users))
		for u := range tr.Confidence.Users {
			users = append(users, string(u))
		}
		sort.Strings(users)
		b.WriteString("\nconfidence:")
		for _, u := range users {
			fmt.Fprintf(&b, "\n  %s %.2f%%", u, tr.Confidence.Users[model.UserID(u)])
		}
	}
	return b.String()
}
