// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/engine"
	"github.com/rhizomedb/rhizomedb/internal/federation"
	"github.com/rhizomedb/rhizomedb/internal/query"
	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

// registerRoutes registers rhizomedb's HTTP surface under /v1: delta
// ingestion, queries and HyperView projection. The websocket federation
// endpoint is registered separately in main, since UpgradeHandler wants
// the raw router rather than a group.
func registerRoutes(router *gin.Engine, eng *engine.Engine, log *logging.Logger) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "deltas": eng.LogLen()})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/deltas", handlePutDelta(eng))
		v1.POST("/query", handleQuery(eng))
		v1.GET("/entities/:id/view", handleProjectView(eng))
		v1.GET("/entities/:id/timeline", handleTimeline(eng))
	}
}

// handlePutDelta accepts a single Delta as JSON and submits it to the
// engine, assigning an id if the caller omitted one.
func handlePutDelta(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d delta.Delta
		if err := c.ShouldBindJSON(&d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if d.ID == "" {
			d.ID = engine.NewDeltaID()
		}
		if err := eng.Put(c.Request.Context(), d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, d)
	}
}

// queryRequest is the JSON body for POST /v1/query, mirroring
// query.DeltaFilter's structural fields (Predicate is not expressible
// over the wire and is left nil).
type queryRequest struct {
	IDs            []string `json:"ids"`
	Authors        []string `json:"authors"`
	Systems        []string `json:"systems"`
	TargetIDs      []string `json:"target_ids"`
	TargetContexts []string `json:"target_contexts"`
	TimestampFrom  *int64   `json:"timestamp_from"`
	TimestampTo    *int64   `json:"timestamp_to"`
	IncludeNegated bool     `json:"include_negated"`
}

func handleQuery(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		filter := query.DeltaFilter{
			IDs: req.IDs, Authors: req.Authors, Systems: req.Systems,
			TargetIDs: req.TargetIDs, TargetContexts: req.TargetContexts,
			IncludeNegated: req.IncludeNegated,
		}
		if req.TimestampFrom != nil || req.TimestampTo != nil {
			filter.TimestampRange = &query.TimestampRange{From: req.TimestampFrom, To: req.TimestampTo}
		}

		deltas, err := eng.Query(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deltas": deltas})
	}
}

func handleProjectView(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		entityID := c.Param("id")
		schemaID := c.Query("schema")
		if schemaID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schema query parameter is required"})
			return
		}
		asOfTs := time.Now().UnixMilli()
		if raw := c.Query("as_of"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "as_of must be an epoch millisecond integer"})
				return
			}
			asOfTs = parsed
		}

		view, err := eng.Project(c.Request.Context(), entityID, schemaID, asOfTs)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func handleTimeline(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		entityID := c.Param("id")
		c.JSON(http.StatusOK, gin.H{"timestamps": eng.Timeline(entityID)})
	}
}

// engineDeltaStore adapts *engine.Engine to federation.DeltaStore, so a
// federation.Link can persist inbound deltas through the engine's normal
// write path (validation, indexing, cache invalidation, subscription
// delivery) instead of writing storage directly.
type engineDeltaStore struct {
	eng *engine.Engine
}

func (s engineDeltaStore) Put(ctx context.Context, d delta.Delta) error {
	return s.eng.Put(ctx, d)
}

func (s engineDeltaStore) Scan(ctx context.Context, filter *federation.SyncFilter, fromTimestamp *int64) ([]delta.Delta, error) {
	qf := query.DeltaFilter{}
	if filter != nil {
		qf.Authors = filter.Authors
		qf.Systems = filter.Systems
		qf.TargetIDs = filter.TargetIDs
		qf.TargetContexts = filter.TargetContexts
	}
	if fromTimestamp != nil {
		qf.TimestampRange = &query.TimestampRange{From: fromTimestamp}
	}
	return s.eng.Query(ctx, qf)
}

// handleFederationLink drives one accepted federation websocket
// connection through its handshake and, on request, initial sync,
// grounded on the teacher's per-connection goroutine read-loop shape in
// services/orchestrator/handlers/websocket.go.
func handleFederationLink(ctx context.Context, transport federation.Transport, eng *engine.Engine, systemID string, log *logging.Logger) {
	defer transport.Close()

	cfg := federation.DefaultConfig(systemID, federation.ModeBidirectional)
	link := federation.NewLink(cfg, transport, engineDeltaStore{eng: eng}, log)

	linkID := engine.NewDeltaID()
	if err := link.Accept(ctx, linkID); err != nil {
		log.Warn("federation handshake failed", "link_id", linkID, "error", err.Error())
		return
	}
	log.Info("federation link connected", "link_id", linkID)

	for {
		msg, err := transport.Receive(ctx)
		if err != nil {
			log.Info("federation link closed", "link_id", linkID, "error", err.Error())
			return
		}
		switch msg.Type {
		case federation.MsgDelta:
			if err := link.HandleIncoming(ctx, msg); err != nil {
				log.Warn("federation delta handling failed", "link_id", linkID, "error", err.Error())
			}
		case federation.MsgSyncRequest:
			if err := link.ServeSyncRequest(ctx, msg, 100); err != nil {
				log.Warn("federation sync_request handling failed", "link_id", linkID, "error", err.Error())
			}
		case federation.MsgPing:
			_ = transport.Send(ctx, federation.Message{Type: federation.MsgPong, Timestamp: time.Now().UnixMilli()})
		default:
			log.Warn("unhandled federation message type", "link_id", linkID, "type", string(msg.Type))
		}
	}
}
