package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/af-corp/sentinel-gate/internal/llm"
	"github.com/af-corp/sentinel-gate/internal/types"
)

// Transport delivers text plus policy hint to a classifier and returns its
// raw reply.
type Transport interface {
	Name() string
	Classify(ctx context.Context, text string, hint Hint) (string, error)
}

// ChatTransport drives a Llama Guard model through a chat API.
type ChatTransport struct {
	chat llm.Chatter
}

func NewChatTransport(chat llm.Chatter) *ChatTransport {
	return &ChatTransport{chat: chat}
}

func (t *ChatTransport) Name() string { return t.chat.Name() }

func (t *ChatTransport) Classify(ctx context.Context, text string, hint Hint) (string, error) {
	msgs := []llm.Message{{Role: "user", Content: text}}
	if hint.Direction == types.DirectionOutput {
		msgs = []llm.Message{
			{Role: "user", Content: "Produce the requested artifact."},
			{Role: "assistant", Content: text},
		}
	}
	return t.chat.Chat(ctx, llm.Request{Messages: msgs, Temperature: llm.Float(0)})
}

// ClassifyMethod is the unary method called on gRPC classifiers. Requests
// and replies are google.protobuf.Struct messages.
const ClassifyMethod = "/sentinel.guard.v1.GuardService/Classify"

// GRPCTransport calls a remote classifier over gRPC with Struct payloads,
// so no generated stubs are needed.
type GRPCTransport struct {
	conn *grpc.ClientConn
}

// DialGRPC creates a lazily-connecting client for addr.
func DialGRPC(addr string) (*GRPCTransport, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic classifier dial: %w", err)
	}
	slog.Info("semantic classifier client created", "address", addr)
	return &GRPCTransport{conn: conn}, nil
}

func (t *GRPCTransport) Name() string { return "grpc" }

func (t *GRPCTransport) Close() error { return t.conn.Close() }

func (t *GRPCTransport) Classify(ctx context.Context, text string, hint Hint) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":        text,
		"policy_hint": hint.asMap(),
	})
	if err != nil {
		return "", fmt.Errorf("build classifier request: %w", err)
	}
	resp := &structpb.Struct{}
	if err := t.conn.Invoke(ctx, ClassifyMethod, req, resp); err != nil {
		return "", fmt.Errorf("classifier call: %w", err)
	}
	return replyFromStruct(resp)
}

// replyFromStruct returns the "reply" string field when present, otherwise
// the whole struct re-encoded as JSON.
func replyFromStruct(s *structpb.Struct) (string, error) {
	if v, ok := s.GetFields()["reply"]; ok {
		if str, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			return str.StringValue, nil
		}
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return "", fmt.Errorf("encode classifier reply: %w", err)
	}
	return string(data), nil
}
