// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/transport/transporttest"
)

func newTestHandler(t *testing.T, config HandlerConfig) (*Handler, *transport.Memory) {
	t.Helper()
	backend := transport.NewMemory("handler-backend")
	if config.Backend == nil {
		config.Backend = Static(backend)
	}
	handler, err := NewHandler(config)
	if err != nil {
		t.Fatal(err)
	}
	return handler, backend
}

func post(handler http.Handler, endpoint string, body []byte, encoding string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, apiPrefix+"default/objects/"+endpoint, bytes.NewReader(body))
	request.Header.Set("Content-Type", contentTypeCBOR)
	if encoding != "" {
		request.Header.Set("Content-Encoding", encoding)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestUploadStoresVerifiedRecords(t *testing.T) {
	handler, backend := newTestHandler(t, HandlerConfig{})
	records := transporttest.Records("upload", 3)
	objects := make([]wireObject, len(records))
	for i, record := range records {
		objects[i] = wireObject{ID: string(record.ID), Data: transporttest.Encoded(t, record)}
	}
	body, err := encodeObjects(objects)
	if err != nil {
		t.Fatal(err)
	}

	response := post(handler, "upload", body, encodingZstd)
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", response.Code, response.Body)
	}
	var result uploadResult
	if err := codec.Unmarshal(response.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Stored != 3 || backend.Len() != 3 {
		t.Errorf("stored = %d, backend holds %d; want 3", result.Stored, backend.Len())
	}
}

func TestUploadRejectsTamperedRecord(t *testing.T) {
	handler, backend := newTestHandler(t, HandlerConfig{})
	records := transporttest.Records("tampered", 2)
	good := transporttest.Encoded(t, records[0])
	// The second record's id paired with the first record's bytes.
	body, err := encodeObjects([]wireObject{
		{ID: string(records[0].ID), Data: good},
		{ID: string(records[1].ID), Data: good},
	})
	if err != nil {
		t.Fatal(err)
	}

	response := post(handler, "upload", body, encodingZstd)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", response.Code)
	}
	if backend.Len() != 0 {
		t.Errorf("backend holds %d records after a rejected upload, want 0", backend.Len())
	}
}

func TestUploadRejectsUnknownEncoding(t *testing.T) {
	handler, _ := newTestHandler(t, HandlerConfig{})
	response := post(handler, "upload", []byte("data"), "br")
	if response.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", response.Code)
	}
}

func TestUploadOverLimitStoresNothing(t *testing.T) {
	records := transporttest.Records("oversized", 3)
	var body []byte
	var firstTwo int
	for i, record := range records {
		item, err := codec.Marshal(wireObject{ID: string(record.ID), Data: transporttest.Encoded(t, record)})
		if err != nil {
			t.Fatal(err)
		}
		body = append(body, item...)
		if i == 1 {
			firstTwo = len(body)
		}
	}
	handler, backend := newTestHandler(t, HandlerConfig{MaxRequestBytes: int64(firstTwo)})

	response := post(handler, "upload", body, "")
	if response.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", response.Code, response.Body)
	}
	if backend.Len() != 0 {
		t.Errorf("backend holds %d records after an oversized upload, want 0", backend.Len())
	}
}

func TestHasAnswersInRequestOrder(t *testing.T) {
	handler, backend := newTestHandler(t, HandlerConfig{})
	records := transporttest.Records("order", 4)
	transporttest.Save(t, backend, records[3], records[1])

	ids := []object.ID{records[3].ID, records[0].ID, records[1].ID, records[2].ID}
	body, err := codec.Marshal(idList{IDs: idStrings(ids)})
	if err != nil {
		t.Fatal(err)
	}
	response := post(handler, "has", body, "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", response.Code, response.Body)
	}
	var result presentList
	if err := codec.Unmarshal(response.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	want := []string{string(records[3].ID), string(records[1].ID)}
	if len(result.Present) != 2 || result.Present[0] != want[0] || result.Present[1] != want[1] {
		t.Errorf("present = %v, want %v", result.Present, want)
	}
}

func TestHasRejectsOversizedAndMalformedRequests(t *testing.T) {
	handler, _ := newTestHandler(t, HandlerConfig{MaxRequestIDs: 2})

	body, err := codec.Marshal(idList{IDs: idStrings(transporttestIDs(3))})
	if err != nil {
		t.Fatal(err)
	}
	if response := post(handler, "has", body, ""); response.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("3 ids: status = %d, want 413", response.Code)
	}

	body, err = codec.Marshal(idList{IDs: []string{"not-an-id"}})
	if err != nil {
		t.Fatal(err)
	}
	if response := post(handler, "has", body, ""); response.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", response.Code)
	}

	if response := post(handler, "has", []byte{0xff, 0x00}, ""); response.Code != http.StatusBadRequest {
		t.Errorf("garbage body: status = %d, want 400", response.Code)
	}
}

func TestDownloadWithoutCompression(t *testing.T) {
	handler, backend := newTestHandler(t, HandlerConfig{})
	records := transporttest.Records("plain", 2)
	transporttest.Save(t, backend, records...)
	ids := append(transporttestIDs(1), records[0].ID, records[1].ID)

	body, err := codec.Marshal(idList{IDs: idStrings(ids)})
	if err != nil {
		t.Fatal(err)
	}
	response := post(handler, "download", body, "")
	if response.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", response.Code, response.Body)
	}
	if encoding := response.Header().Get("Content-Encoding"); encoding != "" {
		t.Errorf("Content-Encoding = %q without Accept-Encoding", encoding)
	}
	decoder := codec.NewDecoder(response.Body)
	var got []object.ID
	for {
		var item wireObject
		if err := decoder.Decode(&item); err != nil {
			break
		}
		got = append(got, object.ID(item.ID))
	}
	if len(got) != 2 || got[0] != records[0].ID || got[1] != records[1].ID {
		t.Errorf("downloaded %v, want the two stored records in order", got)
	}
}

func TestWrongMethodAndPath(t *testing.T) {
	handler, _ := newTestHandler(t, HandlerConfig{})
	request := httptest.NewRequest(http.MethodGet, apiPrefix+"default/objects/has", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET has: status = %d, want 405", recorder.Code)
	}

	request = httptest.NewRequest(http.MethodPost, "/api/v2/objects", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("unknown path: status = %d, want 404", recorder.Code)
	}
}

func transporttestIDs(n int) []object.ID {
	ids := make([]object.ID, n)
	for i, record := range transporttest.Records("handler-ids", n) {
		ids[i] = record.ID
	}
	return ids
}
