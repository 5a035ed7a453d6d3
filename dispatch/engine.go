// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Command dispatcher (spec.md §4.E): decodes GetVariable / SetVariable /
// GetNextVariableName / QueryVariableInfo, routes to the store (B),
// authenticator (C) and policy engine (D), and returns a UEFI status.
// Grounded on the teacher's sat.go/ata "translate, validate, execute"
// shape.

package dispatch

import (
	"crypto/x509"
	"fmt"
	"log"

	"github.com/tescande/varstored/auth"
	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/persist"
	"github.com/tescande/varstored/policy"
	"github.com/tescande/varstored/variable"
)

// Names of the Global-namespace variables the engine reads to derive the
// Secure Boot mode and select trust roots. All of them are stored and
// persisted as ordinary records.
const (
	varPK           = "PK"
	varKEK          = "KEK"
	varAuditMode    = "AuditMode"
	varDeployedMode = "DeployedMode"
)

// Engine composes the variable store, authenticator and policy engine into
// the single explicit object spec.md §9 calls for, eliminating the
// original source's file-scope globals.
type Engine struct {
	Store   *variable.Store
	Persist persist.Adapter

	runtime bool // true once ExitBootServices has been observed (spec.md §4.E)

	// persistFailed latches once a commit's Save call fails. spec.md §7:
	// "the engine refuses further writes until the blob catches up" — a
	// torn or failed save must not be papered over by a later write that
	// happens to succeed, since the guest would then believe an earlier,
	// never-persisted mutation survived. Sticky until process restart.
	persistFailed bool
}

// NewEngine constructs an Engine around store, optionally loading an
// existing snapshot from adapter (spec.md §4.F "load at boot").
func NewEngine(store *variable.Store, adapter persist.Adapter) (*Engine, error) {
	e := &Engine{Store: store, Persist: adapter}
	if adapter == nil {
		return e, nil
	}
	recs, err := adapter.Load()
	if err != nil {
		if err == persist.ErrNone {
			return e, nil
		}
		return nil, err
	}
	if err := store.Restore(recs); err != nil {
		return nil, err
	}
	return e, nil
}

// currentMode derives the Secure Boot mode from the store's current
// contents (spec.md §4.D: "derived, not stored").
func (e *Engine) currentMode() policy.Mode {
	_, pkErr := e.Store.Get(variable.Key{Name: varPK, Vendor: guid.GlobalVariableGUID})
	auditRec, _ := e.Store.Get(variable.Key{Name: varAuditMode, Vendor: guid.GlobalVariableGUID})
	deployRec, _ := e.Store.Get(variable.Key{Name: varDeployedMode, Vendor: guid.GlobalVariableGUID})
	return policy.DeriveMode(pkErr == nil, boolByte(auditRec.Data), boolByte(deployRec.Data))
}

func boolByte(data []byte) bool {
	return len(data) > 0 && data[0] != 0
}

// lookupRecordPtr fetches a record as a *variable.Record for trust-root
// selection, or nil if absent.
func (e *Engine) lookupRecordPtr(name string, vendor guid.GUID) *variable.Record {
	r, err := e.Store.Get(variable.Key{Name: name, Vendor: vendor})
	if err != nil {
		return nil
	}
	return &r
}

// GetVariable implements opcode 1 (spec.md §4.E). Runtime-phase visibility
// (spec.md §4.E "variables lacking RT become invisible") is enforced here.
func (e *Engine) GetVariable(name string, vendor guid.GUID) (variable.Attributes, []byte, Status) {
	key := variable.Key{Name: name, Vendor: vendor}
	r, err := e.Store.Get(key)
	if err != nil {
		return 0, nil, StatusNotFound
	}
	if e.runtime && !r.Attributes.Has(variable.RuntimeAccess) {
		return 0, nil, StatusNotFound
	}
	return r.Attributes, r.Data, StatusSuccess
}

// GetNextVariableName implements opcode 2.
func (e *Engine) GetNextVariableName(prevName string, prevVendor guid.GUID) (string, guid.GUID, Status) {
	k := variable.Key{Name: prevName, Vendor: prevVendor}
	for {
		next, err := e.Store.Next(k)
		if err != nil {
			return "", guid.Nil, StatusNotFound
		}
		if !e.runtime {
			return next.Name, next.Vendor, StatusSuccess
		}
		r, err := e.Store.Get(next)
		if err == nil && r.Attributes.Has(variable.RuntimeAccess) {
			return next.Name, next.Vendor, StatusSuccess
		}
		k = next // skip invisible entries until one is visible or enumeration ends
	}
}

// QueryVariableInfo implements opcode 4.
func (e *Engine) QueryVariableInfo(mask variable.Attributes) (maxStorage, remaining, maxPerVar int) {
	info := e.Store.Query(mask)
	return info.MaxStorage, info.RemainingStorage, info.MaxPerVariable
}

// SetVariable implements opcode 3. buffer is the caller-supplied data,
// which for a TBAW write is the EFI_VARIABLE_AUTHENTICATION_2 envelope
// followed by the real payload; for a non-authenticated write it IS the
// payload.
func (e *Engine) SetVariable(name string, vendor guid.GUID, attrs variable.Attributes, buffer []byte) Status {
	if e.persistFailed {
		return StatusOutOfResources
	}
	key := variable.Key{Name: name, Vendor: vendor}
	existing, getErr := e.Store.Get(key)
	existingOK := getErr == nil
	mode := e.currentMode()

	req := policy.AdmitRequest{
		Key:          key,
		Attrs:        attrs,
		Data:         buffer,
		IsAppend:     attrs.Has(variable.AppendWrite),
		Existing:     existing,
		ExistingOK:   existingOK,
		Mode:         mode,
		RuntimePhase: e.runtime,
	}

	if err := policy.CheckAttributes(req); err != nil {
		return mapError(err)
	}
	if err := policy.CheckRuntimeWrite(req, false); err != nil {
		return mapError(err)
	}
	if vendor == guid.GlobalVariableGUID {
		if cv := policy.ClassifyControlVariable(name); cv != policy.NotControlVariable {
			if err := policy.CheckModeTransition(cv, mode, boolByte(buffer)); err != nil {
				return mapError(err)
			}
		}
	}

	payload := buffer
	var ts codec.EFITime
	needsAuth := policy.RequiresAuthentication(req)

	if needsAuth {
		res, err := e.authenticate(key, mode, attrs, buffer, existing, req.IsAppend)
		if err != nil {
			return mapError(err)
		}
		payload = res.Payload
		ts = res.Timestamp
	}

	// A delete is recognized by the unwrapped payload being empty (for an
	// authenticated write this is the payload after the envelope, not the
	// raw buffer), and is not an append (spec.md §3 "Lifecycle").
	if len(payload) == 0 && !req.IsAppend {
		e.Store.Delete(key)
		return e.commit()
	}

	finalData := payload
	if req.IsAppend && existingOK {
		merged, err := policy.MergeAppend(name, vendor, existing.Data, payload)
		if err != nil {
			return StatusInvalidParameter
		}
		finalData = merged
	}

	rec := variable.Record{
		Key:        key,
		Attributes: attrs.WithoutAppend(),
		Data:       finalData,
	}
	if needsAuth {
		rec.Timestamp = ts
		rec.HasTimestamp = true
	}

	if err := e.Store.Put(rec); err != nil {
		return mapError(err)
	}
	return e.commit()
}

// authenticate selects the trust root set for key (spec.md §4.C step 3)
// and runs the authenticator against it, handling the PK-install-in-Setup
// special case where no pre-existing trust root exists yet.
func (e *Engine) authenticate(key variable.Key, mode policy.Mode, attrs variable.Attributes, buffer []byte, existing variable.Record, isAppend bool) (auth.Result, error) {
	pk := e.lookupRecordPtr(varPK, guid.GlobalVariableGUID)
	kek := e.lookupRecordPtr(varKEK, guid.GlobalVariableGUID)

	roots, rootsErr := policy.SelectTrustRoots(key, mode, pk, kek, existing.Cert)
	if rootsErr != nil {
		if !policy.IsSelfSignedCase(rootsErr) {
			return auth.Result{}, rootsErr
		}
		// No PK installed yet: the request's own signing certificate is
		// accepted as its own trust root (spec.md §4.C step 3, "any key
		// when SetupMode=1"). auth.Verify still requires the signature
		// over the reconstructed message to check out against it.
		env, err := codec.DecodeVariableAuthentication2(codec.NewCursor(buffer))
		if err != nil {
			return auth.Result{}, fmt.Errorf("%w: malformed authentication descriptor: %v", auth.ErrSecurityViolation, err)
		}
		signer, err := auth.ExtractSigner(env.AuthInfo.CertData)
		if err != nil {
			return auth.Result{}, fmt.Errorf("%w: %v", auth.ErrSecurityViolation, err)
		}
		roots = auth.TrustRoots{Certs: []*x509.Certificate{signer}}
	}

	return auth.Verify(auth.Request{
		NameUCS2:             codec.EncodeUCS2(key.Name),
		Vendor:               key.Vendor,
		Attrs:                uint32(attrs),
		Buffer:               buffer,
		Roots:                roots,
		ExistingHasTimestamp: existing.HasTimestamp,
		ExistingTimestamp:    existing.Timestamp,
		IsAppend:             isAppend,
	})
}

// commit persists the store's current state after a committed mutation
// (spec.md §4.F, §7: "Persistence failures after a committed in-memory
// mutation are fatal"). A failure here is logged and surfaced as
// OUT_OF_RESOURCES since the guest has no more specific status to receive
// for "the backing store refused the write" and further writes must be
// refused until the blob catches up.
func (e *Engine) commit() Status {
	if e.Persist == nil {
		return StatusSuccess
	}
	if err := e.Persist.Save(e.Store.Snapshot()); err != nil {
		log.Printf("varstored: persistence save failed, refusing further writes: %v", err)
		e.persistFailed = true
		return StatusOutOfResources
	}
	return StatusSuccess
}

// PersistFailed reports whether a prior commit's persistence save failed,
// latching the engine into refusing further SetVariable calls (spec.md
// §7).
func (e *Engine) PersistFailed() bool {
	return e.persistFailed
}

// NotifyExitBootServices implements opcode 5's boot-services-exit
// transition (spec.md §4.E). One-way per VM boot.
func (e *Engine) NotifyExitBootServices() {
	e.runtime = true
}

// IsRuntime reports whether ExitBootServices has been observed.
func (e *Engine) IsRuntime() bool {
	return e.runtime
}
