package ingestion

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcastellanos/ordergate-backend/pkg/enums"
	pkgerrors "github.com/dcastellanos/ordergate-backend/pkg/errors"
)

func validEventJSON(messageID string) []byte {
	return []byte(fmt.Sprintf(`{
		"messageId": %q,
		"sourceOrderId": "SRC-100",
		"salesUserId": %q,
		"salesCompanyId": %q,
		"customerId": %q,
		"source": "import",
		"items": [
			{"productId": %q, "quantity": 2, "unitPrice": "19.99"},
			{"productId": %q, "quantity": 1, "unitPrice": "5.50", "remarks": "gift wrap"}
		],
		"extendedFields": {"channel": "batch-upload"}
	}`, messageID, uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()))
}

func TestParseEventValidPayload(t *testing.T) {
	t.Parallel()

	event, err := ParseEvent(validEventJSON("msg-1"))
	require.NoError(t, err)

	assert.Equal(t, "msg-1", event.MessageID)
	assert.Equal(t, enums.OrderSourceImport, event.OrderSource())
	assert.Equal(t, enums.ConflictStrategyKeepExisting, event.Strategy())
	require.Len(t, event.Items, 2)
	assert.Equal(t, "19.99", event.Items[0].UnitPrice.String())

	input := event.CreationInput()
	assert.Equal(t, "SRC-100", input.SourceOrderID)
	assert.Len(t, input.Items, 2)
	assert.Equal(t, "batch-upload", input.ExtendedFields["channel"])
}

func TestParseEventRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `{"messageId":`},
		{"missing message id", `{"sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"api","items":[{"productId":"` + uuid.NewString() + `","quantity":1,"unitPrice":"1.00"}]}`},
		{"empty items", `{"messageId":"m","sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"api","items":[]}`},
		{"zero quantity", `{"messageId":"m","sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"api","items":[{"productId":"` + uuid.NewString() + `","quantity":0,"unitPrice":"1.00"}]}`},
		{"negative price", `{"messageId":"m","sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"api","items":[{"productId":"` + uuid.NewString() + `","quantity":1,"unitPrice":"-1.00"}]}`},
		{"unknown source", `{"messageId":"m","sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"fax","items":[{"productId":"` + uuid.NewString() + `","quantity":1,"unitPrice":"1.00"}]}`},
		{"unknown strategy", `{"messageId":"m","sourceOrderId":"SRC-1","salesUserId":"` + uuid.NewString() + `","salesCompanyId":"` + uuid.NewString() + `","customerId":"` + uuid.NewString() + `","source":"api","conflictStrategy":"coin_flip","items":[{"productId":"` + uuid.NewString() + `","quantity":1,"unitPrice":"1.00"}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseEvent([]byte(tc.payload))
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
		})
	}
}

func TestEventMergedItemInputs(t *testing.T) {
	t.Parallel()

	event, err := ParseEvent(validEventJSON("msg-2"))
	require.NoError(t, err)
	assert.Nil(t, event.MergedItemInputs())

	productID := uuid.New()
	event.MergedItems = []EventItem{{ProductID: productID, Quantity: 3, UnitPrice: event.Items[0].UnitPrice}}
	merged := event.MergedItemInputs()
	require.Len(t, merged, 1)
	assert.Equal(t, productID, merged[0].ProductID)
	assert.Equal(t, 3, merged[0].Quantity)
}
