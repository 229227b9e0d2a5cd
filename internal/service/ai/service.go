package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/timemachine/backend/internal/model/chat"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
)

// DefaultVisionModel answers requests that carry an image.
const DefaultVisionModel = "llama-3.2-90b-vision-preview"

var (
	// ErrNotConfigured means no usable provider credentials were supplied.
	ErrNotConfigured = errors.New("model provider is not configured")
	// ErrEmptyResponse means the provider finished without sending any text.
	ErrEmptyResponse = errors.New("model provider returned an empty response")
)

// Request is one completion request.
type Request struct {
	Persona persona.Persona
	// History is the ordered conversation, ending with the newest user message.
	History []chat.Message
	// ImageData is an optional data URI sent along with the newest user message.
	ImageData string
}

// Options tunes a Service.
type Options struct {
	// VisionModel replaces the persona model when an image is attached.
	VisionModel string
	// ModelOverride, when set, replaces every persona model for text requests.
	ModelOverride string
}

// Service streams persona replies from a chat model.
type Service struct {
	chain  compose.Runnable[[]*schema.Message, *schema.Message]
	opts   Options
	logger *zap.Logger
}

// NewService wraps chatModel in a compiled chain. A nil chatModel yields a service
// whose every call fails with ErrNotConfigured, so the server can still start and
// answer with an apology.
func NewService(ctx context.Context, chatModel model.BaseChatModel, opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.VisionModel == "" {
		opts.VisionModel = DefaultVisionModel
	}
	s := &Service{opts: opts, logger: logger.Named("ai")}
	if chatModel == nil {
		s.logger.Warn("no model provider configured, replies will fail")
		return s, nil
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	s.chain = runnable
	return s, nil
}

// Configured reports whether replies can be generated at all.
func (s *Service) Configured() bool {
	return s.chain != nil
}

// StreamReply starts a streaming completion. The caller must drain or close the
// returned reader.
func (s *Service) StreamReply(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	messages := buildMessages(req)
	modelName := s.modelFor(req)
	opts := []model.Option{
		model.WithModel(modelName),
		model.WithTemperature(float32(req.Persona.Temperature)),
	}
	if req.Persona.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.Persona.MaxTokens))
	}

	stream, err := s.chain.Stream(ctx, messages, compose.WithChatModelOption(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat model output: %w", err)
	}

	s.logger.Debug("stream started",
		zap.String("persona", req.Persona.ID),
		zap.String("model", modelName),
		zap.Int("messages", len(messages)),
		zap.Bool("image", req.ImageData != ""),
	)
	return stream, nil
}

func (s *Service) modelFor(req Request) string {
	if req.ImageData != "" {
		return s.opts.VisionModel
	}
	if s.opts.ModelOverride != "" {
		return s.opts.ModelOverride
	}
	return req.Persona.Model
}
