package request_test

import (
	"context"
	"crypto/md5"
	"encoding/xml"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/mattchengg/fusgo/internal/auth"
	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/fustest"
	"github.com/mattchengg/fusgo/internal/request"
)

const (
	model = "SM-N986U1"
	fw    = "N986U1UES1AUA1/N986U1OYM1AUA1/N986U1UES1AUA1/N986U1UES1AUA1"
	nonce = "0123456789ABCDEF"
)

func servedFiles(pda string) map[string]string {
	return map[string]string{
		"BINARY_NAME":            "SM-N986U1_1_20210101_" + pda + "_fac.zip.enc4",
		"BINARY_BYTE_SIZE":       "1024",
		"BINARY_CRC":             "4294967295",
		"MODEL_PATH":             "/neofus/9/",
		"LOGIC_VALUE_FACTORY":    "fedcba9876543210",
		"DEVICE_USER_DATA_FILE":  "USERDATA_" + pda + "_CL1_REV00.tar.md5",
		"DEVICE_CSC_HOME_FILE":   "HOME_CSC_OYM_N986U1OYM1AUA1_CL1.tar.md5",
		"DEVICE_PHONE_FONT_FILE": "CP_N986U1UES1AUA1_CP1.tar.md5",
		"DEVICE_PDA_CODE1_FILE":  "AP_" + pda + "_CL1.tar.md5",
	}
}

func informOK(pda string) string {
	return fustest.Response("200", map[string]string{"LATEST_FW_VERSION": fw}, servedFiles(pda))
}

func TestBuildBinaryInform(t *testing.T) {
	body, err := request.BuildBinaryInform(fw, model, "EUX", "351234567890123", nonce)
	if err != nil {
		t.Fatal(err)
	}
	var msg request.FUSMsg
	if err := xml.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.FUSHdr.ProtoVer != "1.0" {
		t.Errorf("ProtoVer = %q", msg.FUSHdr.ProtoVer)
	}
	check, _ := auth.LogicCheck(fw, nonce)
	for name, want := range map[string]string{
		"ACCESS_MODE":       "2",
		"BINARY_NATURE":     "1",
		"CLIENT_PRODUCT":    "Smart Switch",
		"DEVICE_FW_VERSION": fw,
		"DEVICE_LOCAL_CODE": "EUX",
		"DEVICE_MODEL_NAME": model,
		"DEVICE_IMEI_PUSH":  "351234567890123",
		"LOGIC_CHECK":       check,
		"DEVICE_CC_CODE":    "DE",
		"MCC_NUM":           "262",
	} {
		if got := msg.FUSBody.Put.Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if strings.Contains(body, "<Results>") {
		t.Errorf("request carries a Results element: %s", body)
	}
}

func TestBuildBinaryInform_ShortFirmware(t *testing.T) {
	_, err := request.BuildBinaryInform("A/B/C", model, "XAA", "", nonce)
	if !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestBuildBinaryInit(t *testing.T) {
	name := "SM-N986U1_1_20210101000000_abcdefghij_fac.zip.enc4"
	body, err := request.BuildBinaryInit(name, nonce)
	if err != nil {
		t.Fatal(err)
	}
	var msg request.FUSMsg
	if err := xml.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatal(err)
	}
	if got := msg.FUSBody.Put.Get("BINARY_FILE_NAME"); got != name {
		t.Fatalf("BINARY_FILE_NAME = %q", got)
	}
	base, _, _ := strings.Cut(name, ".")
	want, _ := auth.LogicCheck(base[len(base)-16:], nonce)
	if got := msg.FUSBody.Put.Get("LOGIC_CHECK"); got != want {
		t.Fatalf("LOGIC_CHECK = %q, want %q", got, want)
	}
}

func TestBuildBinaryInit_ShortName(t *testing.T) {
	if _, err := request.BuildBinaryInit("short.zip.enc4", nonce); !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestParseBinaryInform(t *testing.T) {
	info, err := request.ParseBinaryInform(informOK("N986U1UES1AUA1"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != "/neofus/9/" || info.Size != 1024 || !info.IsV4() {
		t.Fatalf("info = %+v", info)
	}
	if info.CRC32 == nil || *info.CRC32 != -1 {
		t.Fatalf("CRC32 = %v, want -1", info.CRC32)
	}
	raw, _ := auth.LogicCheck(fw, "fedcba9876543210")
	if info.V4Key == nil || info.V4Key.Raw != raw || info.V4Key.Key != md5.Sum([]byte(raw)) {
		t.Fatalf("V4Key = %+v", info.V4Key)
	}
}

func TestParseBinaryInform_Errors(t *testing.T) {
	for name, body := range map[string]string{
		"missing status": fustest.Response("", nil, servedFiles("X")),
		"bad status":     fustest.Response("F01", nil, nil),
		"not xml":        "<html>",
		"no binary":      fustest.Response("200", nil, nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := request.ParseBinaryInform(body)
			var perr *fuserr.ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("err = %v, want protocol error", err)
			}
			if perr.Raw != body {
				t.Fatalf("raw = %q", perr.Raw)
			}
		})
	}
}

func TestParseBinaryInform_NoCRC(t *testing.T) {
	put := servedFiles("X")
	delete(put, "BINARY_CRC")
	delete(put, "LOGIC_VALUE_FACTORY")
	put["BINARY_NAME"] = "fw.zip.enc2"
	info, err := request.ParseBinaryInform(fustest.Response("200", nil, put))
	if err != nil {
		t.Fatal(err)
	}
	if info.CRC32 != nil || info.V4Key != nil || info.IsV4() {
		t.Fatalf("info = %+v", info)
	}
}

func TestServedVersion(t *testing.T) {
	resp, err := request.ParseResponse(informOK("N986U1UES1AUA1"))
	if err != nil {
		t.Fatal(err)
	}
	served, ok := resp.ServedVersion(model)
	if !ok || served != fw {
		t.Fatalf("served = %q, %v", served, ok)
	}

	resp, _ = request.ParseResponse(fustest.Response("200", nil, map[string]string{"BINARY_NAME": "x"}))
	if _, ok := resp.ServedVersion(model); ok {
		t.Fatal("expected no served version without data files")
	}
}

func newResolver(t *testing.T, srv *fustest.Server) *request.Resolver {
	c := fusclient.New(srv.Config(), nil, srv.Client())
	c.Log = slog.New(slog.NewTextHandler(fustest.TestingLog(t), &slog.HandlerOptions{Level: slog.LevelDebug}))
	return request.NewResolver(c)
}

func TestResolve(t *testing.T) {
	srv := fustest.NewServer(t)
	srv.Inform = func(int, string) string { return informOK("N986U1UES1AUA1") }
	r := newResolver(t, srv)

	info, err := r.Resolve(context.Background(), request.Query{FW: fw, Model: model, Region: "XAA"})
	if err != nil {
		t.Fatal(err)
	}
	if info.V4Key == nil {
		t.Fatal("missing v4 key")
	}
	if err := r.Init(context.Background(), info); err != nil {
		t.Fatal(err)
	}
	if n := srv.Count("/NF_DownloadBinaryInitForMass.do"); n != 1 {
		t.Fatalf("init requests = %d", n)
	}
}

func TestResolve_IdentifierRetry(t *testing.T) {
	srv := fustest.NewServer(t)
	var bodies []string
	srv.Inform = func(n int, body string) string {
		bodies = append(bodies, body)
		if n == 1 {
			return fustest.Response("408", nil, nil)
		}
		return informOK("N986U1UES1AUA1")
	}
	r := newResolver(t, srv)

	q := request.Query{FW: fw, Model: model, Region: "XAA", IMEISerial: "111111111111111;\n222222222222222"}
	if _, err := r.Resolve(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	if len(bodies) != 2 || !strings.Contains(bodies[1], "222222222222222") {
		t.Fatalf("inform bodies = %q", bodies)
	}
}

func TestResolve_AllIdentifiersRejected(t *testing.T) {
	srv := fustest.NewServer(t)
	srv.Inform = func(int, string) string { return fustest.Response("408", nil, nil) }
	r := newResolver(t, srv)

	_, err := r.Resolve(context.Background(), request.Query{FW: fw, Model: model, Region: "XAA", IMEISerial: "1;2"})
	var perr *fuserr.ProtocolError
	if !errors.As(err, &perr) || perr.Status != "408" {
		t.Fatalf("err = %v, want 408 protocol error", err)
	}
}

func TestResolve_V4KeyRetryBound(t *testing.T) {
	srv := fustest.NewServer(t)
	put := servedFiles("N986U1UES1AUA1")
	delete(put, "LOGIC_VALUE_FACTORY")
	srv.Inform = func(int, string) string { return fustest.Response("200", nil, put) }
	r := newResolver(t, srv)

	_, err := r.Resolve(context.Background(), request.Query{FW: fw, Model: model, Region: "XAA"})
	var kerr *fuserr.KeyDerivationError
	if !errors.As(err, &kerr) {
		t.Fatalf("err = %v, want key derivation error", err)
	}
	if n := srv.Count("/NF_DownloadBinaryInform.do"); n != request.MaxKeyRetries+2 {
		t.Fatalf("inform requests = %d, want %d", n, request.MaxKeyRetries+2)
	}
	if n := srv.Count("/NF_DownloadGenerateNonce.do"); n != request.MaxKeyRetries+2 {
		t.Fatalf("nonce requests = %d, want %d", n, request.MaxKeyRetries+2)
	}
}

func TestResolve_V4KeyRecovers(t *testing.T) {
	srv := fustest.NewServer(t)
	put := servedFiles("N986U1UES1AUA1")
	delete(put, "LOGIC_VALUE_FACTORY")
	srv.Inform = func(n int, _ string) string {
		if n < 3 {
			return fustest.Response("200", nil, put)
		}
		return informOK("N986U1UES1AUA1")
	}
	r := newResolver(t, srv)

	info, err := r.Resolve(context.Background(), request.Query{FW: fw, Model: model, Region: "XAA"})
	if err != nil {
		t.Fatal(err)
	}
	if info.V4Key == nil {
		t.Fatal("missing v4 key")
	}
}

func TestResolveConfirmed(t *testing.T) {
	srv := fustest.NewServer(t)
	srv.Inform = func(int, string) string { return informOK("N986U1UES2AUB1") }
	r := newResolver(t, srv)
	q := request.Query{FW: fw, Model: model, Region: "XAA"}

	_, err := r.Resolve(context.Background(), q)
	var mismatch *fuserr.VersionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want version mismatch", err)
	}
	if !strings.HasPrefix(mismatch.Served, "N986U1UES2AUB1/") {
		t.Fatalf("served = %q", mismatch.Served)
	}

	var asked int
	accept := func(_ context.Context, m *fuserr.VersionMismatchError) (bool, error) {
		asked++
		return true, nil
	}
	info, err := r.ResolveConfirmed(context.Background(), q, accept)
	if err != nil || info == nil || asked != 1 {
		t.Fatalf("accept: info=%v err=%v asked=%d", info, err, asked)
	}

	decline := func(context.Context, *fuserr.VersionMismatchError) (bool, error) { return false, nil }
	if _, err := r.ResolveConfirmed(context.Background(), q, decline); !fuserr.IsCancelled(err) {
		t.Fatalf("decline: err = %v, want cancelled", err)
	}
}
