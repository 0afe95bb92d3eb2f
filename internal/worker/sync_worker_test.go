package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"bizxpense/internal/aggregator"
	"bizxpense/internal/amqp"
	"bizxpense/internal/services"
)

type stubSyncer struct {
	res   services.SyncResult
	err   error
	calls []string
}

func (s *stubSyncer) SyncByExternalItemID(_ context.Context, id string) (services.SyncResult, error) {
	s.calls = append(s.calls, id)
	return s.res, s.err
}

func TestHandleSyncRequest(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"unknown item is acknowledged", services.ErrItemNotFound, false},
		{"reauth is acknowledged", &aggregator.Error{Op: "transactions sync", Code: "ITEM_LOGIN_REQUIRED"}, false},
		{"transient failure is retried", errors.New("aggregator timeout"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &stubSyncer{res: services.SyncResult{Added: 2}, err: tt.err}
			w := NewSyncWorker(syncer)

			err := w.HandleSyncRequest(context.Background(), amqp.NewSyncRequestMessage("ext-1", "SYNC_UPDATES_AVAILABLE"))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []string{"ext-1"}, syncer.calls)
		})
	}
}
