package mongo

import (
	"Parley/internal/pkg/consts"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestLowerStatuses(t *testing.T) {
	req := require.New(t)

	req.Empty(LowerStatuses(consts.MessageStatusSent))
	req.Equal([]string{consts.MessageStatusSent}, LowerStatuses(consts.MessageStatusDelivered))
	req.Equal([]string{consts.MessageStatusSent, consts.MessageStatusDelivered}, LowerStatuses(consts.MessageStatusRead))
	req.Empty(LowerStatuses("unknown"))
}

func TestStatusRank_Is_Monotonic(t *testing.T) {
	req := require.New(t)

	req.Less(statusRank[consts.MessageStatusSent], statusRank[consts.MessageStatusDelivered])
	req.Less(statusRank[consts.MessageStatusDelivered], statusRank[consts.MessageStatusRead])
	req.Zero(statusRank["bogus"])
}

func TestStatusUpdate_Read_Keeps_Read_Flag_In_Sync(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	update := statusUpdate(consts.MessageStatusRead, at)
	req.Len(update, 1)

	set := update[0].(bson.M)["$set"].(bson.M)
	req.Equal(consts.MessageStatusRead, set["status"])
	req.Equal(true, set["is_read"])
	req.Equal(at, set["read_at"])
	// delivered_at is only back-filled when missing
	req.Equal(bson.M{"$ifNull": bson.A{"$delivered_at", at}}, set["delivered_at"])
}

func TestStatusUpdate_Delivered_Does_Not_Touch_Read_Flag(t *testing.T) {
	req := require.New(t)
	at := time.Now().UTC()

	set := statusUpdate(consts.MessageStatusDelivered, at)[0].(bson.M)["$set"].(bson.M)
	req.Equal(consts.MessageStatusDelivered, set["status"])
	req.Equal(at, set["delivered_at"])
	req.NotContains(set, "is_read")
	req.NotContains(set, "read_at")
}

func TestMessage_CheckEditable(t *testing.T) {
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	window := 15 * time.Minute

	tests := []struct {
		name    string
		msg     Message
		editor  uint64
		now     time.Time
		wantErr error
	}{
		{"sender inside window", Message{SenderID: 1, CreatedAt: created}, 1, created.Add(14*time.Minute + 59*time.Second), nil},
		{"exactly at the boundary", Message{SenderID: 1, CreatedAt: created}, 1, created.Add(window), nil},
		{"window expired", Message{SenderID: 1, CreatedAt: created}, 1, created.Add(15*time.Minute + time.Second), ErrEditWindowClosed},
		{"not the sender", Message{SenderID: 1, CreatedAt: created}, 2, created.Add(time.Minute), ErrNotSender},
		{"already deleted", Message{SenderID: 1, CreatedAt: created, IsDeleted: true}, 1, created.Add(time.Minute), ErrTombstoned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.CheckEditable(tt.editor, tt.now, window)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
