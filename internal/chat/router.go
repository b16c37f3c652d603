package chat

import (
	"encoding/json"

	"github.com/google/uuid"

	"boardmarket/chatservice/internal/config"
	"boardmarket/chatservice/internal/logging"
)

// Router decodes inbound frames on an endpoint's socket and dispatches them to
// the registry. It never persists, authenticates, or authorizes; the handshake
// already placed the sender in its thread.
type Router struct {
	registry      *Registry
	maxFrameBytes int64
	log           *logging.Logger
}

// NewRouter constructs a router bound to the registry. A nil cfg falls back to
// the default frame size limit.
func NewRouter(registry *Registry, cfg *config.Config) *Router {
	maxFrameBytes := config.DefaultMaxFrameBytes
	if cfg != nil && cfg.MaxFrameBytes > 0 {
		maxFrameBytes = cfg.MaxFrameBytes
	}
	return &Router{
		registry:      registry,
		maxFrameBytes: maxFrameBytes,
		log:           registry.log,
	}
}

// Run reads frames until the transport closes or fails. The caller is
// responsible for detaching the endpoint when Run returns.
func (rt *Router) Run(endpoint *Endpoint) {
	for {
		data, err := endpoint.receive()
		if err != nil {
			rt.log.Debug("chat read loop ended",
				logging.String("thread_id", endpoint.ThreadID),
				logging.String("user_id", endpoint.UserID),
				logging.Error(err),
			)
			return
		}
		rt.dispatch(endpoint, data)
	}
}

func (rt *Router) dispatch(endpoint *Endpoint, data []byte) {
	if rt.maxFrameBytes > 0 && int64(len(data)) > rt.maxFrameBytes {
		rt.registry.metrics.FrameRejected()
		rt.replyError(endpoint, "frame exceeds size limit")
		return
	}

	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		rt.registry.metrics.FrameRejected()
		rt.replyError(endpoint, "invalid JSON frame")
		return
	}

	switch in.Type {
	case FrameMessage:
		rt.handleMessage(endpoint, in)
	case FramePong:
		rt.registry.HandlePong(endpoint.ThreadID, endpoint.UserID)
	case FrameTyping:
		rt.handleTyping(endpoint, in)
	case "":
		rt.registry.metrics.FrameRejected()
		rt.replyError(endpoint, "frame missing type")
	default:
		rt.log.Warn("unknown frame type",
			logging.String("thread_id", endpoint.ThreadID),
			logging.String("user_id", endpoint.UserID),
			logging.String("frame_type", in.Type),
		)
	}
}

// handleMessage normalizes the inbound message and fans it out to everyone in
// the thread except the sender. Client-supplied message IDs and timestamps are
// preserved; missing ones are filled server-side.
func (rt *Router) handleMessage(endpoint *Endpoint, in inboundFrame) {
	messageID := in.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	timestamp := in.Timestamp
	if timestamp == "" {
		timestamp = Timestamp(rt.registry.now())
	}
	frame := mustMarshal(MessageFrame{
		Type:       FrameMessage,
		ThreadID:   endpoint.ThreadID,
		SenderID:   endpoint.UserID,
		SenderType: endpoint.Role,
		MessageID:  messageID,
		Message:    in.Message,
		Timestamp:  timestamp,
	})
	rt.registry.metrics.MessageAccepted()
	rt.registry.Broadcast(endpoint.ThreadID, frame, endpoint.UserID)
}

func (rt *Router) handleTyping(endpoint *Endpoint, in inboundFrame) {
	frame := mustMarshal(TypingFrame{
		Type:       FrameTyping,
		ThreadID:   endpoint.ThreadID,
		SenderID:   endpoint.UserID,
		SenderType: endpoint.Role,
		IsTyping:   in.IsTyping,
		Timestamp:  Timestamp(rt.registry.now()),
	})
	rt.registry.Broadcast(endpoint.ThreadID, frame, endpoint.UserID)
}

// replyError is best effort; a dead socket surfaces on the next read instead.
func (rt *Router) replyError(endpoint *Endpoint, message string) {
	_ = endpoint.send(encodeError(message, rt.registry.now()))
}
