package core

import "context"

// Release implements the release cycle's public entry point (spec
// §4.3.3). Release never fails: an already-detached or never-attached
// room releases immediately, and any other state waits for the
// in-progress operation before tearing every non-failed contributor
// down, ignoring individual detach errors beyond retrying them.
func (m *Manager) Release(ctx context.Context) error {
	for {
		m.mu.Lock()
		pub := m.status.public().Kind

		if pub == RoomReleased {
			m.mu.Unlock()
			return nil
		}

		if pub == RoomInitialized || pub == RoomDetached {
			op := newOperation(OpRelease)
			m.status = managerStatus{kind: msReleased}
			m.publishStatusLocked()
			m.continuations.complete(op.ID, OpResult{})
			m.mu.Unlock()
			return nil
		}

		if m.status.operationID != "" {
			waitCh := m.continuations.wait(m.status.operationID)
			m.mu.Unlock()
			<-waitCh
			continue
		}

		op := newOperation(OpRelease)
		m.clearAllTransientDisconnectTimeoutsLocked()
		m.status = managerStatus{kind: msReleasing, operationID: op.ID}
		m.publishStatusLocked()
		m.mu.Unlock()

		m.runReleaseCycle(ctx)

		m.mu.Lock()
		m.status = managerStatus{kind: msReleased}
		m.publishStatusLocked()
		m.continuations.complete(op.ID, OpResult{})
		m.mu.Unlock()
		return nil
	}
}

func (m *Manager) runReleaseCycle(ctx context.Context) {
	for _, c := range m.contributors {
		if c.Adapter.State() == ChannelFailed {
			continue
		}
		for {
			err := c.Adapter.Detach(ctx)
			if err == nil {
				break
			}
			if c.Adapter.State() == ChannelFailed {
				break
			}
			select {
			case <-m.closeCtx.Done():
				return
			case <-m.clock.After(m.cfg.DetachRetryInterval):
			}
		}
	}
}
