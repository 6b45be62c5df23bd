package daemon

import (
	"fmt"

	"github.com/bnema/waygate/internal/capability"
	"github.com/bnema/waygate/internal/capture"
	"github.com/bnema/waygate/internal/config"
	"github.com/bnema/waygate/internal/logger"
	"github.com/bnema/waygate/internal/protocol"
	"github.com/bnema/waygate/internal/session"
)

// Handler maps wire requests onto the session manager. Both the control
// socket and the SSH agent transport dispatch through it, so every
// surface sees identical semantics.
type Handler struct {
	manager *session.Manager
	prober  capability.Prober
}

// NewHandler wraps a session manager for wire dispatch.
func NewHandler(m *session.Manager, prober capability.Prober) *Handler {
	return &Handler{manager: m, prober: prober}
}

// Handle processes one request. It never panics on malformed input; a
// request missing its payload gets an error response.
func (h *Handler) Handle(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.RequestCreateSession:
		return h.createSession(req)
	case protocol.RequestSelectDevices:
		return h.selectDevices(req)
	case protocol.RequestStart:
		return h.start(req)
	case protocol.RequestNotifyEvent:
		return h.notifyEvent(req)
	case protocol.RequestCloseSession:
		return h.closeSession(req)
	case protocol.RequestStatus:
		return h.status(req)
	default:
		return protocol.NewErrorResponse(req.Type, "invalid-request",
			fmt.Sprintf("unknown request type %s", req.Type))
	}
}

func (h *Handler) createSession(req *protocol.Request) *protocol.Response {
	if req.CreateSession == nil {
		return missingPayload(req.Type)
	}
	handle, err := h.manager.CreateSession(req.CreateSession.AppID)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return &protocol.Response{
		Type:          req.Type,
		CreateSession: &protocol.CreateSessionResult{Handle: handle},
	}
}

func (h *Handler) selectDevices(req *protocol.Request) *protocol.Response {
	if req.SelectDevices == nil {
		return missingPayload(req.Type)
	}
	effective, err := h.manager.SelectDevices(req.SelectDevices.Handle, req.SelectDevices.Devices)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return &protocol.Response{
		Type:          req.Type,
		SelectDevices: &protocol.SelectDevicesResult{Devices: effective},
	}
}

func (h *Handler) start(req *protocol.Request) *protocol.Response {
	if req.Start == nil {
		return missingPayload(req.Type)
	}
	info, err := h.manager.Start(req.Start.Handle)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	result := &protocol.StartResult{
		Mode:           info.Mode.String(),
		DegradedReason: info.DegradedReason,
	}
	if info.Tier.Available() {
		result.CaptureTier = info.Tier.String()
	}
	return &protocol.Response{Type: req.Type, Start: result}
}

func (h *Handler) notifyEvent(req *protocol.Request) *protocol.Response {
	if req.NotifyEvent == nil {
		return missingPayload(req.Type)
	}
	result, err := h.manager.NotifyEvent(req.NotifyEvent.Handle, &req.NotifyEvent.Event)
	if err != nil {
		return errorResponse(req.Type, err)
	}
	return &protocol.Response{
		Type: req.Type,
		NotifyEvent: &protocol.NotifyEventResult{
			Dispatched:  result == session.Dispatched,
			RateLimited: result == session.RateLimited,
		},
	}
}

func (h *Handler) closeSession(req *protocol.Request) *protocol.Response {
	if req.CloseSession == nil {
		return missingPayload(req.Type)
	}
	if err := h.manager.Close(req.CloseSession.Handle); err != nil {
		return errorResponse(req.Type, err)
	}
	return &protocol.Response{Type: req.Type}
}

func (h *Handler) status(req *protocol.Request) *protocol.Response {
	b := h.manager.Backend()
	return &protocol.Response{
		Type: req.Type,
		Status: &protocol.StatusResult{
			Running:     true,
			Sessions:    h.manager.Count(),
			MaxSessions: config.Get().Session.MaxSessions,
			Backend:     b.Name(),
			CaptureTier: h.currentTier().String(),
			InputReady:  b.InputDeliveryAvailable(),
		},
	}
}

func missingPayload(t protocol.RequestType) *protocol.Response {
	return protocol.NewErrorResponse(t, "invalid-request",
		fmt.Sprintf("%s request missing payload", t))
}

func errorResponse(t protocol.RequestType, err error) *protocol.Response {
	code := session.ErrorCode(err)
	logger.Debugf("%s failed: %s (%v)", t, code, err)
	return protocol.NewErrorResponse(t, code, err.Error())
}

// currentTier reports the tier a session started now would get. Status
// output only; sessions select their own tier at Start.
func (h *Handler) currentTier() capture.Tier {
	caps := h.prober.Probe()
	return capture.SelectTier(caps, config.Get().Capture.MinDmabufVersion)
}
