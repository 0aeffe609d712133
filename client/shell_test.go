package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/dupahar-composer/pkg/channelstore"
	"github.com/mahaj/dupahar-composer/pkg/composer"
	"github.com/mahaj/dupahar-composer/pkg/emoji"
	"github.com/mahaj/dupahar-composer/pkg/model"
	"github.com/mahaj/dupahar-composer/pkg/snowflake"
	"github.com/mahaj/dupahar-composer/pkg/upload"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type recordingSubs struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingSubs) Subscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "+"+id)
	return nil
}

func (r *recordingSubs) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, "-"+id)
	return nil
}

type testShell struct {
	*shell
	log      *channelstore.Memory
	presence *channelstore.Memory
	subs     *recordingSubs
	buf      *bytes.Buffer
}

func newTestShell(t *testing.T) *testShell {
	t.Helper()
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	ts := &testShell{
		log:      channelstore.NewMemory(node),
		presence: channelstore.NewMemory(node),
		subs:     &recordingSubs{},
		buf:      &bytes.Buffer{},
	}
	backend := upload.NewAferoBackend(afero.NewMemMapFs(), "http://media.test/media")
	c, err := composer.New(ts.log, ts.presence, backend, model.Author{ID: "u1", Name: "Ann"},
		composer.Channel{ID: "general"}, composer.WithChunkSize(64))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = c.Close(ctx)
	})

	ts.shell = &shell{
		c:      c,
		subs:   ts.subs,
		fs:     afero.NewMemMapFs(),
		emoji:  emoji.Default(),
		userID: "u1",
		out:    ts.buf,
	}
	return ts
}

func (ts *testShell) output() string {
	ts.outMu.Lock()
	defer ts.outMu.Unlock()
	return ts.buf.String()
}

func (ts *testShell) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, ts.wait(ctx))
}

func TestShell_PlainLineSends(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	ts.onChange("hel")
	require.Eventually(t, func() bool {
		users, _ := ts.presence.Typing(ctx, "general")
		return users["u1"] == "Ann"
	}, waitFor, 5*time.Millisecond)

	assert.False(t, ts.exec(ctx, "hello"))
	ts.settle(t)

	recs := ts.log.Records("general")
	require.Len(t, recs, 1)
	assert.Equal(t, "hello", recs[0].Text)
	assert.Empty(t, ts.c.State().DraftText)
}

func TestShell_EmptyLineReportsError(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	ts.exec(ctx, "   ")
	ts.exec(ctx, "/errors")

	out := ts.output()
	assert.Contains(t, out, "! "+composer.ErrEmptyMessage.Error())
	assert.Contains(t, out, "[message/validation]")
	assert.Empty(t, ts.log.Records("general"))
}

func TestShell_CommandLinesAreNotDrafts(t *testing.T) {
	ts := newTestShell(t)

	ts.onChange("draft")
	ts.onChange("/upl")
	assert.Equal(t, "draft", ts.c.State().DraftText)
}

func TestShell_EmojiThenSend(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	ts.c.SetDraftText("nice")
	ts.exec(ctx, "/emoji thumbsup")
	assert.Equal(t, " nice 👍 ", ts.c.State().DraftText)

	ts.exec(ctx, "/send")
	ts.settle(t)
	recs := ts.log.Records("general")
	require.Len(t, recs, 1)
	assert.Equal(t, " nice 👍 ", recs[0].Text)
}

func TestShell_PickerListsCodes(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	ts.exec(ctx, "/picker")
	assert.True(t, ts.c.State().EmojiPickerOpen)
	assert.Contains(t, ts.output(), "👍 :thumbsup:")

	ts.exec(ctx, "/picker")
	assert.False(t, ts.c.State().EmojiPickerOpen)
}

func TestShell_SwitchChannel(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	ts.exec(ctx, "/channel team private")
	assert.Equal(t, composer.Channel{ID: "team", Private: true}, ts.c.State().Channel)
	assert.Equal(t, []string{"+team", "-general"}, ts.subs.ops)
	assert.Contains(t, ts.output(), "now in #team")

	ts.exec(ctx, "/channel bad/id")
	assert.Equal(t, "team", ts.c.State().Channel.ID)
	assert.Len(t, ts.subs.ops, 2)
}

func TestShell_Upload(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()
	img := bytes.Repeat([]byte{0xff}, 300)
	require.NoError(t, afero.WriteFile(ts.fs, "pics/cat.jpg", img, 0o644))

	ts.exec(ctx, "/upload pics/cat.jpg")
	ts.settle(t)

	assert.Equal(t, upload.PhaseDone, ts.c.State().UploadPhase)
	recs := ts.log.Records("general")
	require.Len(t, recs, 1)
	assert.True(t, strings.HasPrefix(recs[0].ImageURL, "http://media.test/media/public/"), recs[0].ImageURL)

	out := ts.output()
	assert.Contains(t, out, "uploading cat.jpg (300 B)")
	assert.Contains(t, out, "uploaded "+recs[0].ImageURL)
}

func TestShell_UploadErrors(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(ts.fs, "notes.txt", []byte("text"), 0o644))

	ts.exec(ctx, "/upload missing.jpg")
	ts.exec(ctx, "/upload notes.txt")
	ts.exec(ctx, "/upload")

	out := ts.output()
	assert.Contains(t, out, "missing.jpg")
	assert.Contains(t, out, composer.ErrInvalidUpload.Error())
	assert.Contains(t, out, "usage: /upload <file>")
	assert.Empty(t, ts.log.Records("general"))
}

func TestShell_Commands(t *testing.T) {
	ts := newTestShell(t)
	ctx := context.Background()

	assert.False(t, ts.exec(ctx, "/bogus"))
	assert.Contains(t, ts.output(), "unknown command /bogus")
	assert.False(t, ts.exec(ctx, "/errors"))
	assert.Contains(t, ts.output(), "no errors")
	assert.True(t, ts.exec(ctx, "/quit"))
}

func TestShell_OnFrame(t *testing.T) {
	ts := newTestShell(t)
	at := time.Date(2024, 1, 2, 15, 4, 0, 0, time.Local)

	ts.onFrame(model.Frame{Op: model.FrameMessage, ChannelID: "general", Record: &model.MessageRecord{
		Timestamp: at, Author: model.Author{ID: "u2", Name: "Bob"}, Body: model.TextBody("hi"),
	}})
	ts.onFrame(model.Frame{Op: model.FrameMessage, ChannelID: "general", Record: &model.MessageRecord{
		Timestamp: at, Author: model.Author{ID: "u3"}, Body: model.ImageBody("http://m/x.png"),
	}})
	ts.onFrame(model.Frame{Op: model.FrameTyping, ChannelID: "general", UserID: "u2", Name: "Bob", Active: true})
	ts.onFrame(model.Frame{Op: model.FrameTyping, ChannelID: "general", UserID: "u1", Name: "Ann", Active: true})
	ts.onFrame(model.Frame{Op: model.FrameTyping, ChannelID: "general", UserID: "u2", Name: "Bob"})

	lines := strings.Split(strings.TrimSpace(ts.output()), "\n")
	assert.Equal(t, []string{
		"#general 3:04PM Bob: hi",
		"#general 3:04PM u3: [image] http://m/x.png",
		"#general Bob is typing...",
	}, lines)
}

func TestDMChannel(t *testing.T) {
	assert.Equal(t, "dm:a:b", dmChannel("a", "b"))
	assert.Equal(t, "dm:a:b", dmChannel("b", "a"))
}
