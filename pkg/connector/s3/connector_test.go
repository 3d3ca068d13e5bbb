package s3

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/xetra/pkg/connector/s3/s3test"
	"github.com/ajitpratap0/xetra/pkg/errors"
	"github.com/ajitpratap0/xetra/pkg/formats"
)

func testParams() Params {
	return Params{
		AccessKey:   "key",
		SecretKey:   "secret",
		EndpointURL: "http://src",
		Bucket:      "srcbkt",
	}
}

func newTestConnector(t *testing.T, opts ...Option) (*BucketConnector, *s3test.FakeAPI) {
	t.Helper()
	fake := s3test.NewFakeAPI()
	c, err := NewBucketConnector(testParams(), append([]Option{WithClient(fake)}, opts...)...)
	require.NoError(t, err)
	return c, fake
}

func TestNewBucketConnector_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		errMsg string
	}{
		{"missing access key", func(p *Params) { p.AccessKey = "" }, "access_key"},
		{"missing secret key", func(p *Params) { p.SecretKey = " " }, "secret_key"},
		{"missing endpoint", func(p *Params) { p.EndpointURL = "" }, "endpoint_url"},
		{"missing bucket", func(p *Params) { p.Bucket = "" }, "bucket"},
		{"relative endpoint", func(p *Params) { p.EndpointURL = "src-host" }, "not an absolute URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)

			c, err := NewBucketConnector(p)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConnectorConstruction))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewBucketConnector_NoNetwork(t *testing.T) {
	src, err := NewBucketConnector(testParams(), WithRegion("eu-central-1"), WithMaxAttempts(5))
	require.NoError(t, err)
	defer src.Close()

	trg, err := NewBucketConnector(Params{
		AccessKey: "key", SecretKey: "secret", EndpointURL: "http://trg", Bucket: "trgbkt",
	})
	require.NoError(t, err)
	defer trg.Close()

	assert.Equal(t, "http://src", src.EndpointURL())
	assert.Equal(t, "srcbkt", src.Bucket())
	assert.Equal(t, "http://trg", trg.EndpointURL())
	assert.Equal(t, "trgbkt", trg.Bucket())
	assert.NoError(t, src.Close())
}

// writeCABundle writes a self-signed certificate in PEM form.
func writeCABundle(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "xetra-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	return path
}

func TestNewBucketConnector_CABundle(t *testing.T) {
	t.Setenv("AWS_CA_BUNDLE", writeCABundle(t))

	c, err := NewBucketConnector(testParams())
	require.NoError(t, err)
	assert.NotNil(t, c.httpClient)
	assert.NoError(t, c.Close())
}

func TestListKeys(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.PageSize = 2
	for i := 0; i < 5; i++ {
		fake.Put(fmt.Sprintf("2021-04-20/2021-04-20_BINS_XETR%02d.csv", i), []byte("a\n1\n"))
	}
	fake.Put("2021-04-21/2021-04-21_BINS_XETR00.csv", []byte("a\n1\n"))

	keys, err := c.ListKeys(context.Background(), "2021-04-20")
	require.NoError(t, err)
	assert.Len(t, keys, 5)
	assert.Equal(t, "2021-04-20/2021-04-20_BINS_XETR00.csv", keys[0])

	keys, err = c.ListKeys(context.Background(), "2022")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestListKeys_Error(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.ListErr = fmt.Errorf("connection refused")

	_, err := c.ListKeys(context.Background(), "2021")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.True(t, errors.IsRetryable(err))
}

func TestReadObject_NotFound(t *testing.T) {
	c, _ := newTestConnector(t)

	_, err := c.ReadObject(context.Background(), "meta.csv")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCSVRoundTrip(t *testing.T) {
	c, fake := newTestConnector(t, WithSeparator(';'))
	ctx := context.Background()

	tbl := formats.NewTable(
		formats.Column{Name: "isin", Type: formats.String},
		formats.Column{Name: "closing_price_eur", Type: formats.Float64},
	)
	require.NoError(t, tbl.Append("DE0005140008", 9.05))
	require.NoError(t, tbl.Append("AT0000A0E9W5", nil))

	require.NoError(t, c.WriteTable(ctx, tbl, "report/xetra_daily_report_20210422.csv", "csv"))

	body, ok := fake.Object("report/xetra_daily_report_20210422.csv")
	require.True(t, ok)
	assert.Equal(t, "isin;closing_price_eur\nDE0005140008;9.05\nAT0000A0E9W5;\n", string(body))
	assert.Equal(t, "text/csv", fake.ContentType("report/xetra_daily_report_20210422.csv"))

	back, err := c.ReadCSV(ctx, "report/xetra_daily_report_20210422.csv", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"isin", "closing_price_eur"}, back.Names())
	assert.Equal(t, []interface{}{"DE0005140008", "9.05"}, back.Rows[0])
	assert.Nil(t, back.Rows[1][1])
}

func TestWriteTable_Parquet(t *testing.T) {
	c, fake := newTestConnector(t)
	tbl := formats.NewTable(formats.Column{Name: "isin", Type: formats.String})
	require.NoError(t, tbl.Append("DE0005140008"))

	require.NoError(t, c.WriteTable(context.Background(), tbl, "report.parquet", "parquet"))

	body, ok := fake.Object("report.parquet")
	require.True(t, ok)
	decoded, err := formats.DecodeParquet(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, tbl.Rows, decoded.Rows)
}

func TestWriteTable_WrongFormat(t *testing.T) {
	c, fake := newTestConnector(t)
	tbl := formats.NewTable(formats.Column{Name: "isin", Type: formats.String})

	err := c.WriteTable(context.Background(), tbl, "report.xlsx", "xlsx")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrongFormat))
	assert.Empty(t, fake.Puts())
}

func TestWriteObject_Error(t *testing.T) {
	c, fake := newTestConnector(t)
	fake.PutErr = fmt.Errorf("access denied")

	err := c.WriteObject(context.Background(), "k", []byte("x"), "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}
