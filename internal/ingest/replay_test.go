package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriserin/ftsync/internal/gateway"
)

type statusCall struct {
	ID         string
	Status     gateway.Status
	Comment    string
	Attachment string
}

type fakeUpdater struct {
	calls  []statusCall
	failOn map[string]error
}

func (f *fakeUpdater) UpdateStatus(ctx context.Context, id string, status gateway.Status, comment, attachment string) error {
	if err := f.failOn[id]; err != nil {
		return err
	}
	f.calls = append(f.calls, statusCall{id, status, comment, attachment})
	return nil
}

const report = `TP-1,WIP,no comma here,attach.png
TP-2,PASS,"result, looks good",shot.png

TP-3,FAIL,"broken, "really", broken",x.png
TP-4,BLOCKED,,
`

func TestRows_LazyInFileOrder(t *testing.T) {
	var lines []int
	var errs []error
	for row, err := range Rows(strings.NewReader(report)) {
		lines = append(lines, row.Line)
		errs = append(errs, err)
	}
	assert.Equal(t, []int{1, 2, 4, 5}, lines)
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Error(t, errs[2])
	assert.NoError(t, errs[3])
}

func TestRows_StopsWhenConsumerStops(t *testing.T) {
	n := 0
	for range Rows(strings.NewReader(report)) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestRows_CRLF(t *testing.T) {
	for row, err := range Rows(strings.NewReader("TP-1,PASS,ok,a.png\r\n")) {
		require.NoError(t, err)
		assert.Equal(t, "a.png", row.Record.Attachment)
	}
}

func TestRows_ReadError(t *testing.T) {
	boom := errors.New("disk gone")
	var last error
	for _, err := range Rows(errReader{boom}) {
		last = err
	}
	var readErr *ReadError
	require.ErrorAs(t, last, &readErr)
	assert.ErrorIs(t, last, boom)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestReplay_ContinuesPastFailures(t *testing.T) {
	rejected := &gateway.RemoteRejectedError{Op: "update execution", StatusCode: 404}
	gw := &fakeUpdater{failOn: map[string]error{"TP-4": rejected}}
	rp := &Replayer{Gateway: gw, AttachmentDir: "/reports"}

	sum := rp.Replay(context.Background(), strings.NewReader(report))

	require.Len(t, sum.Results, 4)
	assert.Equal(t, 2, sum.Replayed())
	assert.Equal(t, 2, sum.Failures())
	assert.True(t, sum.Failed())

	assert.Equal(t, []statusCall{
		{"TP-1", gateway.StatusWIP, "no comma here", filepath.Join("/reports", "attach.png")},
		{"TP-2", gateway.StatusPass, "result, looks good", filepath.Join("/reports", "shot.png")},
	}, gw.calls)

	var malformed *MalformedRowError
	assert.ErrorAs(t, sum.Results[2].Err, &malformed)
	assert.Equal(t, 4, sum.Results[2].Line)
	assert.ErrorIs(t, sum.Results[3].Err, rejected)

	require.Error(t, sum.Err())
	assert.Contains(t, sum.Err().Error(), "line 4: malformed row")
	assert.Contains(t, sum.Err().Error(), "line 5: ")
}

func TestReplay_AbsoluteAndEmptyAttachmentsUntouched(t *testing.T) {
	gw := &fakeUpdater{}
	rp := &Replayer{Gateway: gw, AttachmentDir: "/reports"}

	sum := rp.Replay(context.Background(), strings.NewReader("TP-1,PASS,ok,/tmp/a.png\nTP-2,PASS,ok,\n"))
	require.False(t, sum.Failed())
	require.Len(t, gw.calls, 2)
	assert.Equal(t, "/tmp/a.png", gw.calls[0].Attachment)
	assert.Equal(t, "", gw.calls[1].Attachment)
}

func TestReplay_EmptyReport(t *testing.T) {
	sum := (&Replayer{Gateway: &fakeUpdater{}}).Replay(context.Background(), strings.NewReader(""))
	assert.Empty(t, sum.Results)
	assert.False(t, sum.Failed())
	assert.NoError(t, sum.Err())
}

func TestReplay_CanceledStops(t *testing.T) {
	gw := &fakeUpdater{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := (&Replayer{Gateway: gw}).Replay(ctx, strings.NewReader(report))
	require.Len(t, sum.Results, 1)
	assert.ErrorIs(t, sum.Results[0].Err, context.Canceled)
	assert.Empty(t, gw.calls)
}

func TestReplay_OnResultInFileOrder(t *testing.T) {
	var seen []int
	rp := &Replayer{
		Gateway:  &fakeUpdater{},
		OnResult: func(r RowResult) { seen = append(seen, r.Line) },
	}

	sum := rp.Replay(context.Background(), strings.NewReader(report))
	assert.Equal(t, []int{1, 2, 4, 5}, seen)
	assert.Len(t, sum.Results, 4)
}
