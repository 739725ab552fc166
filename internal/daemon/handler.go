// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package daemon

import (
	"context"
	"path/filepath"
	"unicode/utf8"

	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/health"
	"grimm.is/sentinel/internal/protocol"
)

// handleFrame turns one request frame into its response. Every failure is
// reported to the client; none of them closes the connection.
func (s *Server) handleFrame(ctx context.Context, client string, frame []byte) protocol.Response {
	if !utf8.Valid(frame) {
		return protocol.Failure(nil, errors.New(errors.KindProtocol, "invalid UTF-8 encoding in message"))
	}
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		return protocol.Failure(req, err)
	}

	resp, err := s.Handle(ctx, client, req)
	if err != nil {
		s.logger.Debug("request failed", "client", client, "action", req.Action, "error", err)
		return protocol.Failure(req, err)
	}
	return resp
}

// Handle executes a decoded request on behalf of client.
func (s *Server) Handle(ctx context.Context, client string, req *protocol.Request) (protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return protocol.Response{}, err
	}

	switch req.Action {
	case protocol.ActionScanContent, protocol.ActionScanFile:
		release, err := s.limiter.AdmitScan(client)
		if err != nil {
			return protocol.Response{}, err
		}
		defer release()

		content, name := req.Content, req.Filename
		if req.Action == protocol.ActionScanFile {
			var canonical string
			content, canonical, err = ReadScanFile(req.FilePath, s.cfg.ScanRoots, s.cfg.MaxFileSize)
			if err != nil {
				return protocol.Response{}, err
			}
			name = filepath.Base(canonical)
		}

		result, err := s.pipeline.Scan(ctx, content, name)
		if err != nil {
			return protocol.Response{}, err
		}
		s.scans.Add(1)
		resp := protocol.Success(req)
		resp.Result = result
		return resp, nil
	}

	// Everything else is a status query.
	if err := s.limiter.CheckPolicy(client); err != nil {
		return protocol.Response{}, err
	}
	resp := protocol.Success(req)
	switch req.Action {
	case protocol.ActionHealth:
		resp.Health = s.HealthReport(true)
	case protocol.ActionHealthLive, protocol.ActionHealthReady:
		resp.Health = s.HealthReport(false)
	case protocol.ActionMetrics:
		if s.registry == nil {
			return protocol.Response{}, errors.New(errors.KindUnavailable, "metrics are disabled")
		}
		text, err := s.registry.Text()
		if err != nil {
			return protocol.Response{}, err
		}
		resp.Metrics = text
	}
	return resp, nil
}

// HealthReport summarizes the degradation tracker. Per-service detail is
// included only when full is set.
func (s *Server) HealthReport(full bool) *protocol.HealthReport {
	r := &protocol.HealthReport{
		Status: s.tracker.Level().String(),
		Live:   s.tracker.Live(),
		Ready:  s.tracker.Ready(),
		Uptime: s.tracker.Uptime(),
	}
	if !full {
		return r
	}
	for _, svc := range s.tracker.Services() {
		r.Services = append(r.Services, serviceHealth(svc))
	}
	return r
}

func serviceHealth(svc health.Service) protocol.ServiceHealth {
	return protocol.ServiceHealth{
		Name:      svc.Name,
		State:     svc.State.String(),
		Reason:    svc.Reason,
		Failures:  svc.Failures,
		ChangedAt: svc.ChangedAt,
	}
}
