package saga

import (
	"testing"
)

func inspect(t *testing.T, raw string) View {
	t.Helper()
	view, err := JSONInspector().Inspect([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return view
}

func TestHasFields(t *testing.T) {
	view := inspect(t, `{
		"messageId": "059f36b4",
		"body": "{}",
		"attributes": {"ApproximateReceiveCount": "1"}
	}`)

	tests := []struct {
		name  string
		paths []string
		want  bool
	}{
		{"all present", []string{"messageId", "body"}, true},
		{"nested", []string{"attributes.ApproximateReceiveCount"}, true},
		{"one missing", []string{"messageId", "kinesis"}, false},
		{"no paths", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFields(tt.paths...).Match(view); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFieldEquals(t *testing.T) {
	view := inspect(t, `{
		"Type": "Notification",
		"MessageId": "95df01b4",
		"SignatureVersion": 1
	}`)

	t.Run("matches exact string value", func(t *testing.T) {
		if !FieldEquals("Type", "Notification").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("fails on wrong value", func(t *testing.T) {
		if FieldEquals("Type", "SubscriptionConfirmation").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("fails on missing field", func(t *testing.T) {
		if FieldEquals("Subject", "x").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("fails on non-string field", func(t *testing.T) {
		if FieldEquals("SignatureVersion", "1").Match(view) {
			t.Error("expected no match for non-string field")
		}
	})
}

func TestCombinators(t *testing.T) {
	view := inspect(t, `{"Type": "Notification", "Message": "{}", "MessageId": "m-1"}`)

	yes := HasFields("Message")
	no := HasFields("Sns")

	tests := []struct {
		name string
		d    Discriminator
		want bool
	}{
		{"and all match", And(yes, FieldEquals("Type", "Notification")), true},
		{"and one fails", And(yes, no), false},
		{"and empty", And(), true},
		{"and with a string check", And(HasString("Message"), HasString("MessageId")), true},
		{"string check on a missing field", HasString("Subject"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.Match(view); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRedriveNotification(t *testing.T) {
	tests := map[string]struct {
		raw  string
		want bool
	}{
		"failed batch": {
			raw:  `{"requestContext": {"condition": "RetryAttemptsExhausted"}, "KinesisBatchInfo": {"shardId": "s"}}`,
			want: true,
		},
		"saga payload": {
			raw:  `{"version": "v1", "saga": "checkout"}`,
			want: false,
		},
		"queue record": {
			raw:  `{"messageId": "m", "body": "{}"}`,
			want: false,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := RedriveNotification.Match(inspect(t, tt.raw)); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Discriminator
		not  []Discriminator
	}{
		{
			"queue message",
			`{"messageId": "m-1", "body": "x", "eventSource": "aws:sqs"}`,
			IsQueueMessage,
			[]Discriminator{IsStreamRecord, IsNotificationRecord, IsNotification},
		},
		{
			"stream record",
			`{"eventID": "shardId-000:1", "kinesis": {"data": "eA==", "sequenceNumber": "1"}}`,
			IsStreamRecord,
			[]Discriminator{IsQueueMessage, IsNotificationRecord, IsNotification},
		},
		{
			"notification record",
			`{"EventSource": "aws:sns", "Sns": {"MessageId": "n-1", "Message": "x"}}`,
			IsNotificationRecord,
			[]Discriminator{IsQueueMessage, IsStreamRecord, IsNotification},
		},
		{
			"notification",
			`{"Type": "Notification", "MessageId": "n-1", "Message": "x"}`,
			IsNotification,
			[]Discriminator{IsQueueMessage, IsStreamRecord, IsNotificationRecord},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := inspect(t, tt.raw)
			if !tt.want.Match(view) {
				t.Error("expected match")
			}
			for i, d := range tt.not {
				if d.Match(view) {
					t.Errorf("other shape %d matched", i)
				}
			}
		})
	}
}

func TestMatchFunc(t *testing.T) {
	view := inspect(t, `{"saga": "checkout"}`)
	calls := 0
	d := And(HasFields("missing"), MatchFunc(func(View) bool {
		calls++
		return true
	}))

	if d.Match(view) {
		t.Fatal("expected no match")
	}
	if calls != 0 {
		t.Errorf("And evaluated %d discriminators after a miss", calls)
	}
}

func TestStreamRecordNeedsRecordFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"record", `{"kinesis": {"data": "eA==", "sequenceNumber": "1"}}`, true},
		{"string value", `{"kinesis": "not a record", "note": "hi"}`, false},
		{"no data", `{"kinesis": {"sequenceNumber": "1"}}`, false},
		{"no sequence number", `{"kinesis": {"data": "eA=="}}`, false},
		{"data not a string", `{"kinesis": {"data": {"x": 1}, "sequenceNumber": "1"}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStreamRecord.Match(inspect(t, tt.raw)); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSagaPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"current version", `{"version": "v1", "saga": "x"}`, true},
		{"foreign version", `{"version": "decorated.saga.v1", "saga": "x"}`, false},
		{"numeric version", `{"version": 1, "saga": "x"}`, false},
		{"no version", `{"saga": "x"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSagaPayload.Match(inspect(t, tt.raw)); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}
