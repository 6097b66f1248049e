package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/meshgate/internal/connection"
	"github.com/rmacdonaldsmith/meshgate/internal/packetlog"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
	"github.com/rmacdonaldsmith/meshgate/pkg/radio"
)

const (
	defaultPacketLimit = 100
	maxPacketLimit     = 1000
)

// Radio is the part of the device connection the API drives
type Radio interface {
	SendText(ctx context.Context, message string, dest uint32, opts radio.SendOptions) error
	NodeInfo(num uint32) radio.NodeInfo
}

// StatusFunc reports current gateway health
type StatusFunc func() HealthResponse

// Handlers contains all HTTP request handlers
type Handlers struct {
	radio    Radio
	packets  *packetlog.Log
	commands pipe.LineHandler
	status   StatusFunc
	logger   *slog.Logger

	// background runs accepted commands outside the request lifetime
	background func(line string)
}

// Message endpoints

// SendMessage handles POST /api/v1/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		writeError(w, "text is required", http.StatusBadRequest)
		return
	}

	dest := radio.BroadcastAddr
	if req.Destination != "" {
		num, err := radio.ParseNodeID(req.Destination)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		dest = num
	}

	opts := radio.SendOptions{WantAck: req.WantAck, Channel: req.Channel}
	if err := h.radio.SendText(r.Context(), req.Text, dest, opts); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, connection.ErrNotConnected) || errors.Is(err, connection.ErrShutdown) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, fmt.Sprintf("Failed to send message: %v", err), status)
		return
	}

	chunks := 1
	if len(req.Text) >= radio.ChunkSize {
		chunks = len(connection.Split(req.Text, radio.ChunkSize))
	}
	writeJSON(w, SendMessageResponse{
		Destination: radio.FormatNodeID(dest),
		Bytes:       len(req.Text),
		Chunks:      chunks,
	}, http.StatusOK)
}

// Node endpoints

// GetNode handles GET /api/v1/nodes/{id}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	num, err := radio.ParseNodeID(id)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	info := h.radio.NodeInfo(num)
	if info.IsZero() {
		writeError(w, fmt.Sprintf("node %s not known to the radio", id), http.StatusNotFound)
		return
	}

	resp := NodeResponse{
		Num:       info.Num,
		ID:        info.ID,
		LongName:  info.LongName,
		ShortName: info.ShortName,
		HWModel:   info.HWModel,
		SNR:       info.SNR,
		LastHeard: info.LastHeard,
	}
	if pos := info.Position; pos != nil {
		resp.Latitude = &pos.Latitude
		resp.Longitude = &pos.Longitude
		resp.Altitude = &pos.Altitude
	}
	writeJSON(w, resp, http.StatusOK)
}

// Packet endpoints

// ListPackets handles GET /api/v1/packets?offset={offset}&limit={limit}
func (h *Handlers) ListPackets(w http.ResponseWriter, r *http.Request) {
	if h.packets == nil {
		writeError(w, "Packet log is not enabled", http.StatusNotFound)
		return
	}

	offset := h.packets.StartOffset()
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, "offset must be an integer", http.StatusBadRequest)
			return
		}
		offset = parsed
	}

	limit := defaultPacketLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxPacketLimit)
	}

	entries, err := h.packets.Read(r.Context(), offset, limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, packetlog.ErrNegativeOffset) || errors.Is(err, packetlog.ErrNegativeMaxCount) {
			status = http.StatusBadRequest
		}
		writeError(w, err.Error(), status)
		return
	}

	resp := PacketsResponse{
		Packets:   make([]PacketEntry, 0, len(entries)),
		EndOffset: h.packets.EndOffset(),
		Count:     len(entries),
	}
	if len(entries) > 0 {
		resp.StartOffset = entries[0].Offset
	} else {
		resp.StartOffset = offset
	}
	for _, entry := range entries {
		resp.Packets = append(resp.Packets, packetEntry(entry))
	}
	writeJSON(w, resp, http.StatusOK)
}

func packetEntry(entry packetlog.Entry) PacketEntry {
	info := entry.Packet.Info()
	text, _ := entry.Packet.Text()
	return PacketEntry{
		Offset:     entry.Offset,
		ID:         info.ID,
		From:       radio.FormatNodeID(info.From),
		To:         radio.FormatNodeID(info.To),
		Channel:    info.Channel,
		PortNum:    info.PortNum.String(),
		Text:       text,
		Payload:    entry.Packet.Payload(),
		RxSNR:      info.RxSNR,
		RxRSSI:     info.RxRSSI,
		ReceivedAt: entry.Packet.ReceivedAt(),
	}
}

// Admin endpoints

// RunCommand handles POST /api/v1/commands
func (h *Handlers) RunCommand(w http.ResponseWriter, r *http.Request) {
	if err := h.validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Command = strings.TrimRight(req.Command, "\r\n")
	if req.Command == "" {
		writeError(w, "command is required", http.StatusBadRequest)
		return
	}

	matched := pipe.Match(req.Command)
	if matched == "" {
		writeError(w, fmt.Sprintf("unknown command %q", req.Command), http.StatusBadRequest)
		return
	}

	h.logger.Info("command accepted", "command", matched, "client", GetClientID(r))
	h.background(req.Command)

	writeJSON(w, CommandResponse{
		Command:  req.Command,
		Matched:  matched,
		Accepted: true,
	}, http.StatusAccepted)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.status()
	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, status)
}

// Helper methods

// validateJSON validates that the request has valid JSON content-type
func (h *Handlers) validateJSON(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
