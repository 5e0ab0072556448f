package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catsnet/freeprobe/pkg/logger"
)

func validTXT() []string {
	return []string{
		"api_version=8.0",
		"api_base_url=/api/",
		"api_domain=mafreebox.freeboxos.fr",
		"device_type=FreeboxServer1,2",
		"uid=23b86ec8091013d668829fe12791fdab",
		"https_available=1",
		"https_port=443",
		"box_model=fbxgw-r2/full",
		"box_model_name=Freebox Server (r2)",
	}
}

func testEntry(txt []string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry("Freebox Server", "_fbx-api._tcp", "local.")
	entry.HostName = "fbx.local."
	entry.Port = 80
	entry.Text = txt
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 254)}

	return entry
}

func TestParseTXT(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want map[string]string
	}{
		{
			name: "key value pairs",
			raw:  []string{"api_version=8.0", "uid=x"},
			want: map[string]string{"api_version": "8.0", "uid": "x"},
		},
		{
			name: "value containing equals",
			raw:  []string{"api_base_url=/api/?v=1"},
			want: map[string]string{"api_base_url": "/api/?v=1"},
		},
		{
			name: "bare key decodes to empty value",
			raw:  []string{"https_available"},
			want: map[string]string{"https_available": ""},
		},
		{
			name: "later duplicate wins",
			raw:  []string{"uid=a", "uid=b"},
			want: map[string]string{"uid": "b"},
		},
		{
			name: "empty strings skipped",
			raw:  []string{"", "=nokey"},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTXT(tt.raw))
		})
	}
}

func TestDescriptor_Validate(t *testing.T) {
	desc := &Descriptor{TXT: ParseTXT(validTXT())}
	require.NoError(t, desc.Validate())

	for _, key := range requiredTXTKeys {
		t.Run("missing "+key, func(t *testing.T) {
			txt := ParseTXT(validTXT())
			delete(txt, key)

			incomplete := &Descriptor{TXT: txt}
			assert.ErrorIs(t, incomplete.Validate(), ErrInvalidDescriptor)
		})
	}

	t.Run("unparsable version", func(t *testing.T) {
		txt := ParseTXT(validTXT())
		txt["api_version"] = "banana"

		bad := &Descriptor{TXT: txt}
		assert.ErrorIs(t, bad.Validate(), ErrInvalidDescriptor)
	})
}

func TestDescriptor_APIMajor(t *testing.T) {
	tests := []struct {
		version string
		want    int
		wantErr bool
	}{
		{version: "8.1", want: 8},
		{version: "10.0", want: 10},
		{version: "4", want: 4},
		{version: "", wantErr: true},
		{version: "x.y", wantErr: true},
		{version: "-1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("version "+tt.version, func(t *testing.T) {
			desc := &Descriptor{TXT: map[string]string{"api_version": tt.version}}

			major, err := desc.APIMajor()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, major)
		})
	}
}

func TestDescriptor_OptionalKeys(t *testing.T) {
	desc := &Descriptor{TXT: ParseTXT(validTXT())}

	assert.True(t, desc.HTTPSAvailable())
	assert.Equal(t, uint16(443), desc.HTTPSPort())
	assert.Equal(t, "fbxgw-r2/full", desc.BoxModel())
	assert.Equal(t, "Freebox Server (r2)", desc.BoxModelName())

	bare := &Descriptor{TXT: map[string]string{}}
	assert.False(t, bare.HTTPSAvailable())
	assert.Zero(t, bare.HTTPSPort())
}

func newTestScanner(browse func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error, opts ...ScannerOption) *ZeroconfScanner {
	s := NewScanner(logger.NewTestLogger(), opts...)
	s.browse = browse

	return s
}

func feedEntries(entries ...*zeroconf.ServiceEntry) func(ctx context.Context, out chan<- *zeroconf.ServiceEntry) error {
	return func(ctx context.Context, out chan<- *zeroconf.ServiceEntry) error {
		go func() {
			defer close(out)

			for _, entry := range entries {
				select {
				case out <- entry:
				case <-ctx.Done():
					return
				}
			}

			<-ctx.Done()
		}()

		return nil
	}
}

func TestDiscover_FirstResolvedWins(t *testing.T) {
	s := newTestScanner(feedEntries(testEntry(validTXT())))

	desc, err := s.Discover(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Equal(t, "Freebox Server", desc.Name)
	assert.Equal(t, "mafreebox.freeboxos.fr", desc.APIDomain())
	assert.Equal(t, "192.168.1.254", desc.Address.String())
	assert.Equal(t, uint16(80), desc.Port)
}

func TestDiscover_SkipsUnusableRecords(t *testing.T) {
	noAddr := testEntry(validTXT())
	noAddr.AddrIPv4 = nil

	noUID := testEntry([]string{"api_version=8.0", "api_base_url=/api/", "api_domain=d", "device_type=t"})

	s := newTestScanner(feedEntries(noAddr, noUID, testEntry(validTXT())))

	desc, err := s.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "23b86ec8091013d668829fe12791fdab", desc.UID())
}

func TestDiscover_UIDFilter(t *testing.T) {
	other := testEntry(append(validTXT()[:4:4], "uid=other-box"))
	wanted := testEntry(validTXT())

	s := newTestScanner(feedEntries(other, wanted), WithUID("23b86ec8091013d668829fe12791fdab"))

	desc, err := s.Discover(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "23b86ec8091013d668829fe12791fdab", desc.UID())
}

func TestDiscover_TimeoutReturnsNotFound(t *testing.T) {
	s := newTestScanner(feedEntries())

	const timeout = 250 * time.Millisecond

	start := time.Now()
	_, err := s.Discover(context.Background(), timeout)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+200*time.Millisecond)
}

func TestDiscover_BrowseFailure(t *testing.T) {
	s := newTestScanner(func(_ context.Context, _ chan<- *zeroconf.ServiceEntry) error {
		return assert.AnError
	})

	_, err := s.Discover(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrResolverInit)
}
