package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/marmos91/coapfs/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	// Keep the user's config out of the way
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Run("MissingRoot", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 1, run(nil, &stderr))
		assert.Contains(t, stderr.String(), "usage: coapfs")
	})

	t.Run("RelativeRoot", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 1, run([]string{"relative/dir"}, &stderr))
		assert.Contains(t, stderr.String(), "absolute")
	})

	t.Run("UnknownFlag", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 1, run([]string{"-x", "/tmp"}, &stderr))
	})

	t.Run("Help", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 0, run([]string{"-h"}, &stderr))
	})

	t.Run("HostNameRejected", func(t *testing.T) {
		var stderr bytes.Buffer
		assert.Equal(t, 1, run([]string{"-a", "localhost", t.TempDir()}, &stderr))
	})

	t.Run("RootCannotBeOpened", func(t *testing.T) {
		var stderr bytes.Buffer
		missing := filepath.Join(t.TempDir(), "missing")
		assert.Equal(t, 1, run([]string{missing}, &stderr))
	})

	t.Run("PortInUse", func(t *testing.T) {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
		require.NoError(t, err)
		defer conn.Close()
		port := conn.LocalAddr().(*net.UDPAddr).Port

		var stderr bytes.Buffer
		assert.Equal(t, 1, run([]string{"-p", strconv.Itoa(port), t.TempDir()}, &stderr))
	})

	t.Run("InitConfig", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "coapfs.yaml")

		var stderr bytes.Buffer
		require.Equal(t, 0, run([]string{"-init-config", path}, &stderr))
		assert.Contains(t, stderr.String(), path)

		_, err := os.Stat(path)
		require.NoError(t, err)

		assert.Equal(t, 1, run([]string{"-init-config", path}, &stderr), "existing file needs -force")
		assert.Equal(t, 0, run([]string{"-init-config", "-force", path}, &stderr))
	})
}

func TestStartMetrics(t *testing.T) {
	t.Run("DisabledIsNoop", func(t *testing.T) {
		assert.Nil(t, startMetrics(context.Background(), config.MetricsConfig{Port: 9090}))
	})

	t.Run("ServesEndpoint", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m := startMetrics(ctx, config.MetricsConfig{Enabled: true, Port: port})
		require.NotNil(t, m)
		m.RecordGiveUp()

		url := fmt.Sprintf("http://127.0.0.1:%d/metrics", port)
		var body string
		require.Eventually(t, func() bool {
			resp, err := http.Get(url)
			if err != nil {
				return false
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil || resp.StatusCode != http.StatusOK {
				return false
			}
			body = string(data)
			return true
		}, 5*time.Second, 50*time.Millisecond)

		assert.Contains(t, body, "coapfs_coap_retransmit_give_ups_total 1")
	})
}
