package ai

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
)

type recordingModel struct {
	input  []*schema.Message
	opts   *model.Options
	chunks []string
}

func (m *recordingModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	return schema.AssistantMessage("", nil), nil
}

func (m *recordingModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	msgs := make([]*schema.Message, 0, len(m.chunks))
	for _, c := range m.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func seeded(t *testing.T, id string) persona.Persona {
	t.Helper()
	p, ok := persona.NewMemoryStore(persona.Seed()).FindByID(id)
	require.True(t, ok)
	return p
}

func TestBuildMessagesTextConversation(t *testing.T) {
	p := seeded(t, persona.Default)
	msgs := buildMessages(Request{
		Persona: p,
		History: []chat.Message{
			{Content: "Hey there!", IsAI: true},
			{Content: "hello"},
		},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, p.SystemPrompt+"\n\nRemember to always talk to the user like a real human who genuenly cares.", msgs[0].Content)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Equal(t, schema.User, msgs[2].Role)
	assert.Equal(t, "hello", msgs[2].Content)
}

func TestBuildMessagesImageCollapsesToOneUserTurn(t *testing.T) {
	p := seeded(t, persona.Girlie)
	msgs := buildMessages(Request{
		Persona:   p,
		History:   []chat.Message{{Content: "earlier"}, {Content: "what is this?"}},
		ImageData: "data:image/png;base64,AAAA",
	})

	require.Len(t, msgs, 1)
	assert.Equal(t, schema.User, msgs[0].Role)
	require.Len(t, msgs[0].MultiContent, 2)
	assert.Equal(t, SystemPrompt(p)+"\n\nwhat is this?", msgs[0].MultiContent[0].Text)
	require.NotNil(t, msgs[0].MultiContent[1].ImageURL)
	assert.Equal(t, "data:image/png;base64,AAAA", msgs[0].MultiContent[1].ImageURL.URL)
}

func TestBuildMessagesImageWithoutText(t *testing.T) {
	p := seeded(t, persona.Default)
	msgs := buildMessages(Request{
		Persona:   p,
		History:   []chat.Message{{Content: ""}},
		ImageData: "data:image/jpeg;base64,BBBB",
	})
	assert.Equal(t, SystemPrompt(p)+"\n\nWhat's in this image?", msgs[0].MultiContent[0].Text)
}

func TestStreamReplyPassesPersonaSampling(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{chunks: []string{"Hi", " there"}}
	svc, err := NewService(ctx, fake, Options{}, nil)
	require.NoError(t, err)

	p := seeded(t, persona.X)
	stream, err := svc.StreamReply(ctx, Request{Persona: p, History: []chat.Message{{Content: "yo"}}})
	require.NoError(t, err)
	defer stream.Close()

	var got string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got += chunk.Content
	}
	assert.Equal(t, "Hi there", got)

	require.NotNil(t, fake.opts.Model)
	assert.Equal(t, p.Model, *fake.opts.Model)
	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, p.Temperature, float64(*fake.opts.Temperature), 1e-6)
	require.NotNil(t, fake.opts.MaxTokens)
	assert.Equal(t, p.MaxTokens, *fake.opts.MaxTokens)
	assert.Len(t, fake.input, 2)
}

func TestStreamReplyUsesVisionModelForImages(t *testing.T) {
	ctx := context.Background()
	fake := &recordingModel{chunks: []string{"a cat"}}
	svc, err := NewService(ctx, fake, Options{ModelOverride: "custom"}, nil)
	require.NoError(t, err)

	stream, err := svc.StreamReply(ctx, Request{
		Persona:   seeded(t, persona.Default),
		History:   []chat.Message{{Content: "look"}},
		ImageData: "data:image/png;base64,AAAA",
	})
	require.NoError(t, err)
	stream.Close()
	assert.Equal(t, DefaultVisionModel, *fake.opts.Model)

	stream, err = svc.StreamReply(ctx, Request{
		Persona: seeded(t, persona.Default),
		History: []chat.Message{{Content: "plain"}},
	})
	require.NoError(t, err)
	stream.Close()
	assert.Equal(t, "custom", *fake.opts.Model)
}

func TestStreamReplyNotConfigured(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Options{}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Configured())

	_, err = svc.StreamReply(context.Background(), Request{Persona: seeded(t, persona.Default)})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
