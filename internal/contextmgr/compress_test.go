package contextmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/convtypes"
)

type fakeCounter struct {
	perMessage int
}

func (f *fakeCounter) Count(_ context.Context, _ string, messages []convtypes.Message, _ string, _ bool) int {
	total := 0
	for _, m := range messages {
		if m.Content.IsText {
			total += len(m.Content.Text)/4 + f.perMessage
		} else {
			total += f.perMessage
		}
	}
	return total
}

type fakeUpdater struct {
	calls int
}

func (f *fakeUpdater) UpdateMessage(_ context.Context, _ string, _ *convtypes.Content, _ map[string]any) error {
	f.calls++
	return nil
}

func toolMsg(id string, content string) convtypes.Message {
	return convtypes.Message{MessageID: id, Type: convtypes.MessageTool, Content: convtypes.TextContent(content)}
}

func TestCompress_EmptyThread(t *testing.T) {
	mgr := &Manager{Counter: &fakeCounter{perMessage: 0}, Store: &fakeUpdater{}}
	out, err := mgr.Compress(context.Background(), Input{
		Messages: nil, Model: "claude-sonnet", ContextWindow: 200_000,
	})
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
	assert.False(t, out.WroteToDB)
}

func TestCompress_FastPathNoMutation(t *testing.T) {
	mgr := &Manager{Counter: &fakeCounter{perMessage: 1}, Store: &fakeUpdater{}}
	msgs := []convtypes.Message{toolMsg("m1", "short")}
	out, err := mgr.Compress(context.Background(), Input{
		Messages: msgs, Model: "claude-sonnet", ContextWindow: 200_000,
	})
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)
	assert.False(t, out.Messages[0].Compressed())
	assert.False(t, out.WroteToDB)
}

func TestTier1_FiveToolResultsNoneCompressed(t *testing.T) {
	var msgs []convtypes.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, toolMsg("t"+string(rune('0'+i)), "result payload"))
	}
	mgr := &Manager{}
	out, wrote, err := mgr.tier1(context.Background(), msgs)
	require.NoError(t, err)
	assert.False(t, wrote)
	for _, m := range out {
		assert.False(t, m.Compressed())
	}
}

func TestTier1_SixToolResultsOldestCompressed(t *testing.T) {
	var msgs []convtypes.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, toolMsg("t"+string(rune('0'+i)), "result payload"))
	}
	mgr := &Manager{Store: &fakeUpdater{}}
	out, wrote, err := mgr.tier1(context.Background(), msgs)
	require.NoError(t, err)
	assert.True(t, wrote)

	compressedCount := 0
	for i, m := range out {
		if m.Compressed() {
			compressedCount++
			assert.Equal(t, 0, i, "only the oldest tool result should be compressed")
		}
	}
	assert.Equal(t, 1, compressedCount)
}

func TestMiddleOut_321MessagesKeepsExactly320(t *testing.T) {
	var msgs []convtypes.Message
	for i := 0; i < 321; i++ {
		msgs = append(msgs, toolMsg("m", "x"))
	}
	out := middleOut(msgs)
	assert.Len(t, out, 320)
}

func TestSafeTruncate_SingleOversizedMessage(t *testing.T) {
	long := make([]byte, 10_000)
	for i := range long {
		long[i] = 'a'
	}
	out := safeTruncate(string(long), 1000)
	assert.LessOrEqual(t, len(out), 1000)
	assert.Contains(t, out, "...[content truncated]...")
}

func TestCompressionIdempotent(t *testing.T) {
	var msgs []convtypes.Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, toolMsg("t"+string(rune('0'+i)), "a fairly long tool result payload here"))
	}
	mgr := &Manager{Counter: &fakeCounter{perMessage: 5000}, Store: &fakeUpdater{}}
	first, err := mgr.Compress(context.Background(), Input{Messages: msgs, Model: "claude-sonnet", ContextWindow: 200_000})
	require.NoError(t, err)

	second, err := mgr.Compress(context.Background(), Input{Messages: first.Messages, Model: "claude-sonnet", ContextWindow: 200_000})
	require.NoError(t, err)

	require.Equal(t, len(first.Messages), len(second.Messages))
	for i := range first.Messages {
		a, _ := first.Messages[i].CompressedContent()
		b, _ := second.Messages[i].CompressedContent()
		assert.Equal(t, a, b)
	}
}
