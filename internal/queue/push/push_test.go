package push

import (
	"encoding/base64"
	"net/http"
	"strings"
	"testing"

	"github.com/springfiles/edgecache/internal/httperr"
	"github.com/springfiles/edgecache/internal/model"
)

func envelope(t *testing.T, data string, attrs map[string]string) string {
	t.Helper()
	b := `{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte(data)) + `"`
	if len(attrs) > 0 {
		b += `,"attributes":{`
		first := true
		for k, v := range attrs {
			if !first {
				b += ","
			}
			b += `"` + k + `":"` + v + `"`
			first = false
		}
		b += `}`
	}
	b += `,"messageId":"m1","publishTime":"2024-01-01T00:00:00Z"},"subscription":"s"}`
	return b
}

func TestDecode_SyncRequest(t *testing.T) {
	body := envelope(t, `{"category":"map","springname":"Aberdeen3v3v3"}`,
		map[string]string{"requestType": "SyncRequest"})

	req, err := Decode(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := req.Message.RequireAttr("requestType", "SyncRequest"); err != nil {
		t.Fatalf("RequireAttr: %v", err)
	}

	var sr model.SyncRequest
	if err := req.Message.DecodeData(&sr); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if sr.Category != "map" || sr.Springname != "Aberdeen3v3v3" {
		t.Fatalf("sync request=%+v", sr)
	}
}

func TestDecode_MissingDataIsBadRequest(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"message":{"messageId":"m1"},"subscription":"s"}`))
	if !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("err=%v want 400", err)
	}
}

func TestDecode_MalformedEnvelopeIsBadRequest(t *testing.T) {
	_, err := Decode(strings.NewReader(`not json`))
	if !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("err=%v want 400", err)
	}
}

func TestRequireAttr_MissingOrWrong(t *testing.T) {
	m := Message{Attributes: map[string]string{"eventType": "OBJECT_DELETE"}}
	if err := m.RequireAttr("eventType", "OBJECT_FINALIZE"); !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("err=%v want 400", err)
	}
	if err := (Message{}).RequireAttr("requestType", "SyncRequest"); !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("err=%v want 400", err)
	}
}

func TestDecodeData_BadBase64AndBadJSON(t *testing.T) {
	var v map[string]any
	if err := (Message{Data: "!!!"}).DecodeData(&v); !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("bad base64: err=%v want 400", err)
	}
	bad := base64.StdEncoding.EncodeToString([]byte("not json"))
	if err := (Message{Data: bad}).DecodeData(&v); !httperr.IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("bad json: err=%v want 400", err)
	}
}

func TestDecodeData_ObjectNotification(t *testing.T) {
	m := Message{Data: base64.StdEncoding.EncodeToString(
		[]byte(`{"bucket":"upload-bucket","name":"new_map.sd7"}`))}
	var obj ObjectNotification
	if err := m.DecodeData(&obj); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if obj.Bucket != "upload-bucket" || obj.Name != "new_map.sd7" {
		t.Fatalf("notification=%+v", obj)
	}
}
