package main

import (
	"bufio"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"

	"github.com/hazelv/bluewire/internal/session"
	"github.com/hazelv/bluewire/internal/util"
)

// runChat drives the terminal conversation: stdin lines go out as messages,
// session events come back as printed text, saved media, or status lines.
//
//	/send <path>  transfer a file
//	/quit         say goodbye and exit
func runChat(ctx context.Context, sess *session.Session, downloadDir string, runErr <-chan error) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case err := <-runErr:
			return err

		case e := <-sess.Events():
			handleEvent(e, downloadDir)

		case line, ok := <-lines:
			if !ok {
				// stdin closed, wind down gracefully.
				sess.Close()
				lines = nil
				continue
			}
			handleLine(ctx, sess, line)
		}
	}
}

func handleLine(ctx context.Context, sess *session.Session, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":

	case line == "/quit":
		sess.Close()

	case strings.HasPrefix(line, "/send "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/send "))
		data, err := os.ReadFile(path)
		if err != nil {
			util.LogError("read %s: %v", path, err)
			return
		}
		// Transfers block until fully acknowledged, so run them off the REPL.
		go func() {
			if err := sess.SendMedia(ctx, data); err != nil {
				util.LogError("transfer %s: %v", path, err)
				return
			}
			util.LogSuccess("sent %s (%d bytes)", filepath.Base(path), len(data))
		}()

	case strings.HasPrefix(line, "/"):
		util.LogWarning("unknown command %q (try /send <path> or /quit)", line)

	default:
		if err := sess.SendText(ctx, line); err != nil {
			util.LogError("send: %v", err)
		}
	}
}

func handleEvent(e session.Event, downloadDir string) {
	switch ev := e.(type) {
	case session.MessageReceived:
		pterm.Println(pterm.Cyan("peer> ") + ev.Text)

	case session.MediaReceived:
		path, err := saveMedia(downloadDir, ev)
		if err != nil {
			util.LogError("save media: %v", err)
			return
		}
		util.LogSuccess("received %s (%d bytes, %s)", path, len(ev.Data), ev.MimeHint)

	case session.StateChanged:
		switch ev.New {
		case session.StateEstablished:
			util.LogSuccess("secure channel established")
		case session.StateDegraded:
			util.LogWarning("peer is slow to respond")
		case session.StateReconnecting:
			util.LogWarning("connection lost, reconnecting")
		}

	case session.ErrorEvent:
		util.LogWarning("%s error: %v", ev.Kind, ev.Err)
	}
}

// saveMedia writes an inbound transfer into the download directory, picking
// a file extension from the sniffed MIME type.
func saveMedia(dir string, m session.MediaReceived) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	ext := ".bin"
	if exts, err := mime.ExtensionsByType(m.MimeHint); err == nil && len(exts) > 0 {
		ext = exts[0]
	}

	path := filepath.Join(dir, fmt.Sprintf("recv-%s%s", m.ID.String()[:8], ext))
	if err := os.WriteFile(path, m.Data, 0644); err != nil {
		return "", err
	}
	return path, nil
}
