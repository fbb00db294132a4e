package mixer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// fakeQueueSocket speaks just enough of the line protocol for the
// client under test.
type fakeQueueSocket struct {
	listener net.Listener
	t        *testing.T
}

func startFakeQueueSocket(t *testing.T) *fakeQueueSocket {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &fakeQueueSocket{listener: listener, t: t}
	go f.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return f
}

func (f *fakeQueueSocket) addr() string { return f.listener.Addr().String() }

func (f *fakeQueueSocket) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeQueueSocket) handle(conn net.Conn) {
	defer conn.Close()
	fmt.Fprintf(conn, "OK MPD 0.23.5\n")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "status":
			fmt.Fprintf(conn, "state: play\nplaylistlength: 2\nsongid: 7\nOK\n")
		case line == "currentsong":
			fmt.Fprintf(conn, "file: song.mp3\nTitle: A Song\nArtist: Somebody\nId: 7\nPos: 0\nduration: 123.456\nOK\n")
		case line == "playlistinfo":
			fmt.Fprintf(conn, "file: one.mp3\nTitle: One\nId: 1\nPos: 0\nfile: two.mp3\nTitle: Two\nId: 2\nPos: 1\nOK\n")
		case strings.HasPrefix(line, "addid missing"):
			fmt.Fprintf(conn, "ACK [50@0] {addid} No such directory\n")
		case strings.HasPrefix(line, "addid"):
			fmt.Fprintf(conn, "Id: 42\nOK\n")
		case strings.HasPrefix(line, "deleteid 99"):
			fmt.Fprintf(conn, "ACK [50@0] {deleteid} No such song\n")
		case line == "close":
			return
		default:
			fmt.Fprintf(conn, "OK\n")
		}
	}
}

func TestQueueClient_StatusAndCurrentSong(t *testing.T) {
	sock := startFakeQueueSocket(t)
	client := NewQueueClient(sock.addr(), zerolog.Nop())
	defer client.Close()
	ctx := context.Background()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Playing() || st.QueueLength != 2 || st.SongID != 7 {
		t.Errorf("unexpected status %+v", st)
	}

	song, err := client.CurrentSong(ctx)
	if err != nil {
		t.Fatalf("CurrentSong: %v", err)
	}
	if song == nil || song.ID != 7 || song.Title != "A Song" || song.DurationSeconds != 123.456 {
		t.Errorf("unexpected song %+v", song)
	}
}

func TestQueueClient_Queue(t *testing.T) {
	sock := startFakeQueueSocket(t)
	client := NewQueueClient(sock.addr(), zerolog.Nop())
	defer client.Close()

	songs, err := client.Queue(context.Background())
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(songs) != 2 {
		t.Fatalf("expected 2 songs, got %d", len(songs))
	}
	if songs[0].File != "one.mp3" || songs[1].ID != 2 {
		t.Errorf("unexpected queue %+v", songs)
	}
}

func TestQueueClient_AddAndErrors(t *testing.T) {
	sock := startFakeQueueSocket(t)
	client := NewQueueClient(sock.addr(), zerolog.Nop())
	defer client.Close()
	ctx := context.Background()

	id, err := client.Add(ctx, "fresh.mp3")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}

	if _, err := client.Add(ctx, "missing.mp3"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound, got %v", err)
	}

	if err := client.DeleteID(ctx, 99); !errors.Is(err, ErrSongNotFound) {
		t.Errorf("expected ErrSongNotFound, got %v", err)
	}
}

func TestQueueClient_UnreachableSocket(t *testing.T) {
	client := NewQueueClient("127.0.0.1:1", zerolog.Nop())
	defer client.Close()

	if _, err := client.Status(context.Background()); err == nil {
		t.Fatal("expected error for unreachable socket")
	}
}

func TestQuoteArg(t *testing.T) {
	if got := quoteArg("plain.mp3"); got != "plain.mp3" {
		t.Errorf("unexpected quoting: %q", got)
	}
	if got := quoteArg(`with space.mp3`); got != `"with space.mp3"` {
		t.Errorf("unexpected quoting: %q", got)
	}
	if got := quoteArg(`has"quote.mp3`); got != `"has\"quote.mp3"` {
		t.Errorf("unexpected quoting: %q", got)
	}
}
