package rest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sumarte/internal/core"
)

func TestDecodeListShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []int64
		next string
	}{
		{"bare array", `[{"id":1},{"id":2}]`, []int64{1, 2}, ""},
		{"paginated", `{"count":3,"next":"http://x/api/proyectos/?page=2","previous":null,"results":[{"id":3}]}`, []int64{3}, "http://x/api/proyectos/?page=2"},
		{"paginated empty", `{"count":0,"next":null,"previous":null,"results":[]}`, []int64{}, ""},
		{"null", `null`, []int64{}, ""},
		{"empty body", ``, []int64{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, next, err := decodeList[wireProject]([]byte(tc.body))
			require.NoError(t, err)
			require.NotNil(t, items)
			got := make([]int64, 0, len(items))
			for _, it := range items {
				got = append(got, it.ID)
			}
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.next, next)
		})
	}

	_, _, err := decodeList[wireProject]([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestDecodeOneUnwrapsEnvelope(t *testing.T) {
	tx, err := decodeOne[wireTransaction]([]byte(`{"message":"Transacción aprobada exitosamente.","data":{"id":9,"estado_transaccion":"aprobado"}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(9), tx.ID)
	assert.Equal(t, core.Approved, tx.domain().Status)

	plain, err := decodeOne[wireProject]([]byte(`{"id":4,"nombre_proyecto":"Festival"}`))
	require.NoError(t, err)
	assert.Equal(t, "Festival", plain.Name)
}

func TestTolerantScalars(t *testing.T) {
	var w struct {
		A amount    `json:"a"`
		B amount    `json:"b"`
		C amount    `json:"c"`
		D id        `json:"d"`
		E id        `json:"e"`
		F id        `json:"f"`
		G timestamp `json:"g"`
		H timestamp `json:"h"`
		I timestamp `json:"i"`
	}
	raw := `{"a":"1500.50","b":2000,"c":null,"d":"12","e":{"id":5,"nombre":"x"},"f":null,
		"g":"2024-03-01","h":"2024-03-01T10:30:00.123456Z","i":"2024-03-01T10:30:00"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &w))

	assert.Equal(t, "1500.5", w.A.domain().String())
	assert.Equal(t, "2000", w.B.domain().String())
	assert.True(t, w.C.domain().IsZero())
	assert.Equal(t, int64(12), *w.D.ptr())
	assert.Equal(t, int64(5), *w.E.ptr())
	assert.Nil(t, w.F.ptr())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), w.G.t)
	assert.Equal(t, 10, w.H.t.Hour())
	assert.Equal(t, 30, w.I.t.Minute())
}

func TestTransactionTranslation(t *testing.T) {
	raw := `{
		"id": 31, "proyecto": 2, "item_presupuestario": 7, "subitem_presupuestario": null,
		"proveedor": 4, "proveedor_nombre": "Ferretería Sur", "usuario": 8, "usuario_nombre": "ana",
		"monto_transaccion": "125000.00", "fecha_registro": "2024-05-02",
		"nro_documento": "F-77", "tipo_doc_transaccion": "factura electrónica",
		"tipo_transaccion": "egreso", "estado_transaccion": "pendiente",
		"puede_aprobar": true, "puede_editar": false,
		"evidencias": [{"id": 3, "eliminado": false}, {"id": 4, "eliminado": true}]
	}`
	var w wireTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	tx := w.domain()

	assert.Equal(t, core.Expense, tx.Type)
	assert.Equal(t, core.Pending, tx.Status)
	assert.True(t, tx.Amount.Equal(core.NewAmount(125000)))
	require.NotNil(t, tx.ItemID)
	assert.Nil(t, tx.SubitemID)
	assert.Equal(t, core.Permissions{CanApprove: true}, tx.Permissions)
	assert.Equal(t, []int64{3}, tx.EvidenceIDs)
	assert.Equal(t, "Ferretería Sur", tx.SupplierName)

	var explicit wireTransaction
	require.NoError(t, json.Unmarshal([]byte(`{"can_approve":false,"can_edit_delete":true,"can_edit":true,"puede_aprobar":true}`), &explicit))
	assert.Equal(t, core.Permissions{CanEditDelete: true, CanEdit: true}, explicit.domain().Permissions)
}

func TestTransactionBodyTranslatesBack(t *testing.T) {
	item := int64(7)
	body := newTransactionBody(core.Transaction{
		ProjectID: 2, ItemID: &item, SupplierID: 4,
		Amount: core.NewAmount(5000), Date: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Type: core.Income, DocumentType: core.DocBoletaCompra,
	})
	assert.Equal(t, "ingreso", body.Type)
	assert.Equal(t, "2024-05-02", body.Date)
	assert.Equal(t, "5000", body.Amount)
}

func TestProjectStatusPassThrough(t *testing.T) {
	assert.Equal(t, core.ProjectPaused, projectStatus("en_pausa"))
	assert.Equal(t, core.ProjectStatus("en_rendicion"), projectStatus("en_rendicion"))
}

func TestClosingReportForcesInvalidOnErrors(t *testing.T) {
	w := wireClosingReport{Valid: true, Errors: []string{"2 pending transactions"}}
	r := w.domain()
	assert.False(t, r.Valid)
	assert.NotNil(t, r.Warnings)
}

func TestFilenameFrom(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{`attachment; filename="estado_proyecto_4.pdf"`, "estado_proyecto_4.pdf"},
		{`attachment; filename*=UTF-8''rendici%C3%B3n.pdf`, "rendición.pdf"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{`attachment`, "fallback.pdf"},
		{``, "fallback.pdf"},
		{`;;;`, "fallback.pdf"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, filenameFrom(tc.header, "fallback.pdf"), tc.header)
	}
}
