// Package idempotency implements the at-most-once execution guard for real
// runs. The state machine is absent → in_progress → succeeded | failed;
// terminal states never transition further and a key is never re-inserted.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow-engine/internal/model"
	"github.com/sells-group/leadflow-engine/internal/store"
)

// Guard arbitrates ownership of a (agentID, key) execution slot through the
// store's atomic insert-or-detect operation.
type Guard struct {
	store store.Store
}

// New builds a Guard over the given store.
func New(st store.Store) *Guard {
	return &Guard{store: st}
}

// BeginResult is the outcome of claiming an idempotency key.
type BeginResult struct {
	// Owned means this caller inserted the in_progress record and is the
	// exclusive owner of the key's execution.
	Owned bool
	// Replay holds the stored success payload (marker already merged) when
	// a prior attempt succeeded.
	Replay json.RawMessage
	// Conflict is set for the in_progress and failed branches.
	Conflict *model.RunError
}

// Begin attempts to claim the key. When a concurrent request won the
// insert, the found record's state is branched on exactly as if it had been
// found on first read.
func (g *Guard) Begin(ctx context.Context, agentID, key, requestHash string) (BeginResult, error) {
	err := g.store.InsertIdempotencyInProgress(ctx, agentID, key, requestHash)
	if err == nil {
		return BeginResult{Owned: true}, nil
	}
	if !eris.Is(err, store.ErrDuplicateKey) {
		return BeginResult{}, eris.Wrap(err, "idempotency: begin")
	}

	rec, err := g.store.GetIdempotencyRecord(ctx, agentID, key)
	if err != nil {
		return BeginResult{}, eris.Wrap(err, "idempotency: fetch existing record")
	}
	if rec == nil {
		// The losing insert saw a record that is gone by the re-fetch
		// (operator cleared it). Treated as retryable.
		return BeginResult{}, eris.Errorf("idempotency: record for key %s vanished", key)
	}
	return resultFromRecord(rec)
}

// Peek resolves an existing record's outcome without attempting to claim
// the key. Returns nil when no record exists. Callers use it to honor a
// terminal or in-progress record before run-level gates such as quota,
// which apply only to a new execution.
func (g *Guard) Peek(ctx context.Context, agentID, key string) (*BeginResult, error) {
	rec, err := g.store.GetIdempotencyRecord(ctx, agentID, key)
	if err != nil {
		return nil, eris.Wrap(err, "idempotency: peek")
	}
	if rec == nil {
		return nil, nil
	}
	res, err := resultFromRecord(rec)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func resultFromRecord(rec *model.IdempotencyRecord) (BeginResult, error) {
	switch rec.Status {
	case model.IdemInProgress:
		return BeginResult{Conflict: model.NewRunError(
			model.ErrInProgress,
			"a run with this idempotency key is already in progress",
		)}, nil
	case model.IdemSucceeded:
		return BeginResult{Replay: MergeReplayMarker(rec.ResponseJSON)}, nil
	case model.IdemFailed:
		return BeginResult{Conflict: model.NewRunError(
			model.ErrIdempotencyReplay,
			"a previous attempt with this idempotency key failed; supply a new key",
		)}, nil
	default:
		return BeginResult{}, eris.Errorf("idempotency: unknown record status %q", rec.Status)
	}
}

// Succeed stores the serialized success payload. Best-effort: a persistence
// failure is logged and never changes what the owning caller returns; it
// does leave the record in_progress for future duplicates.
func (g *Guard) Succeed(ctx context.Context, agentID, key string, response []byte) {
	if err := g.store.MarkIdempotencySucceeded(ctx, agentID, key, response); err != nil {
		zap.L().Error("idempotency: failed to mark succeeded",
			zap.String("agent_id", agentID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
	}
}

// Fail stores the serialized error. Best-effort, same as Succeed.
func (g *Guard) Fail(ctx context.Context, agentID, key string, runErr *model.RunError) {
	payload, err := json.Marshal(map[string]any{
		"message": runErr.Message,
		"code":    runErr.Code,
	})
	if err != nil {
		payload = []byte(`{"message":"unserializable error"}`)
	}
	if err := g.store.MarkIdempotencyFailed(ctx, agentID, key, payload); err != nil {
		zap.L().Error("idempotency: failed to mark failed",
			zap.String("agent_id", agentID),
			zap.String("idempotency_key", key),
			zap.Error(err),
		)
	}
}

// MergeReplayMarker adds idempotencyReplayed: true to object-shaped
// payloads. Array and scalar payloads pass through unchanged, as does
// anything that fails to decode.
func MergeReplayMarker(payload []byte) json.RawMessage {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}
	obj["idempotencyReplayed"] = true
	merged, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return merged
}

// HashRequest produces the advisory request hash stored alongside the
// in_progress record. It is audit metadata only; the key alone is the
// deduplication identity.
func HashRequest(req any) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
