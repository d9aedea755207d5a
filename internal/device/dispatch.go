package device

import (
	"fmt"
	"slices"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// DispatchPoseUpdate routes a pose reported for index and reports whether
// the caller should forward it to the runtime. pose may be modified in place.
//
// Poses smaller than host.DriverPoseSize and poses for unknown or inactive
// indices pass through unchanged. Disabled devices are suppressed. The
// reference device feeds the compensation engine and is delivered as is;
// every other device is corrected by the engine.
func (r *Registry) DispatchPoseUpdate(index uint32, pose *host.DriverPose, size uint32) bool {
	if pose == nil || size < host.DriverPoseSize || index >= host.MaxTrackedDeviceCount {
		return true
	}

	r.mu.RLock()
	h := r.byIndexLocked(index)
	if h == nil || !h.valid {
		r.mu.RUnlock()
		return true
	}
	mode := h.mode
	h.framesSincePose.Store(0)
	r.mu.RUnlock()

	switch mode {
	case ModeDisabled:
		return false
	case ModeMotionCompensationReference:
		r.engine.RecordReferencePose(index, pose)
		return true
	default:
		r.engine.Apply(pose)
		return true
	}
}

// DispatchPropertyWrite applies the configured overrides to a property batch
// before the runtime sees it. The owning device is found by container, or by
// asking the property service for every index when the container was never
// registered. A container found this way is added to the registry.
//
// Manufacturer and tracking system overrides apply to every batch. The model
// override needs the owner to be the HMD, so it is skipped when no device
// owns the container; ErrNotFound is returned after the other overrides were
// applied in that case.
func (r *Registry) DispatchPropertyWrite(container host.PropertyContainer, batch []host.PropertyWrite) error {
	if len(batch) == 0 || !r.hasPropertyOverrides() {
		return nil
	}

	var err error
	index, ok := r.indexForContainer(container)
	if !ok {
		index = host.IndexInvalid
		err = fmt.Errorf("%w: container %d", ErrNotFound, uint64(container))
	}

	for i := range batch {
		w := &batch[i]
		var override []byte
		switch w.Prop {
		case host.PropManufacturerName:
			override = r.manufacturer
		case host.PropTrackingSystemName:
			override = r.trackingSystem
		case host.PropModelNumber:
			if index == host.IndexHMD {
				override = r.model
			}
		}
		if override == nil {
			continue
		}
		w.Tag = host.TagString
		w.Buffer = slices.Clone(override)
		w.BufferSize = uint32(len(override))
	}
	return err
}

func (r *Registry) hasPropertyOverrides() bool {
	return r.manufacturer != nil || r.model != nil || r.trackingSystem != nil
}

// indexForContainer resolves the device index owning container.
func (r *Registry) indexForContainer(container host.PropertyContainer) (uint32, bool) {
	r.mu.RLock()
	if slot, ok := r.byContainer[container]; ok {
		index := r.handles[slot].index
		r.mu.RUnlock()
		return index, true
	}
	props := r.props
	logger := r.logger
	r.mu.RUnlock()

	if props == nil || container == host.InvalidPropertyContainer {
		return host.IndexInvalid, false
	}

	for i := uint32(0); i < host.MaxTrackedDeviceCount; i++ {
		if props.TrackedDeviceToPropertyContainer(i) != container {
			continue
		}

		r.mu.Lock()
		h := r.byIndexLocked(i)
		if h == nil {
			r.mu.Unlock()
			return host.IndexInvalid, false
		}
		if h.container != host.InvalidPropertyContainer && r.byContainer[h.container] == h.slot {
			delete(r.byContainer, h.container)
		}
		h.container = container
		r.byContainer[container] = h.slot
		serial := h.serial
		r.mu.Unlock()

		logger.Debug("property container registered by scan", "serial", serial, "index", i, "container", uint64(container))
		return i, true
	}
	return host.IndexInvalid, false
}

// RunFrameTick advances per-frame state: it ages every device's last pose,
// flags devices that stopped reporting and drives the compensation engine
// with the current validity of the reference device.
func (r *Registry) RunFrameTick() {
	refIndex, refActive := r.engine.ReferenceIndex()

	var newlyStale []string
	r.mu.Lock()
	for _, h := range r.handles {
		if !h.valid {
			continue
		}
		n := h.framesSincePose.Add(1)
		stale := r.staleAfter > 0 && n >= r.staleAfter
		if stale && !h.stale {
			newlyStale = append(newlyStale, h.serial)
		}
		h.stale = stale
	}
	refValid := false
	if refActive {
		h := r.byIndexLocked(refIndex)
		refValid = h != nil && h.valid && h.mode == ModeMotionCompensationReference
	}
	logger := r.logger
	r.mu.Unlock()

	for _, serial := range newlyStale {
		logger.Debug("device stopped reporting poses", "serial", serial)
	}
	if r.engine.RunFrame(refIndex, refValid) {
		r.demoteReference(refIndex)
	}
}

// demoteReference returns the lost reference device to ModeNormal after the
// engine dropped it. That is the device still at index, or one deactivated
// while in reference mode. A reference chosen since is left alone.
func (r *Registry) demoteReference(index uint32) {
	r.mu.Lock()
	d := r.depsLocked()
	var changed []Info
	for _, h := range r.handles {
		if h.mode != ModeMotionCompensationReference {
			continue
		}
		if h.valid && h.index != index {
			continue
		}
		h.mode = ModeNormal
		changed = append(changed, infoLocked(h))
	}
	r.mu.Unlock()

	for _, info := range changed {
		d.logger.Info("reference device demoted", "serial", info.Serial)
		d.emit(EventModeChanged, info)
	}
}
