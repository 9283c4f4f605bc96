package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPorts_GeometryInvariants(t *testing.T) {
	for _, p := range Ports() {
		assert.Equal(t, p.BlockSize*p.BlockCount, p.ImageSize, p.Name)
		assert.Equal(t, VFSLFS2, p.FSVersion, p.Name)
	}

	esp32, ok := Lookup("esp32-generic")
	require.True(t, ok)
	assert.Equal(t, 512, esp32.BlockCount)
	assert.Equal(t, 2*1024*1024, esp32.ImageSize) // fills flash from 0x200000 on a 4MB part

	pico, ok := Lookup("rp2-pico")
	require.True(t, ok)
	assert.Equal(t, uint32(0x100A0000), pico.DriveBase)

	picoW, ok := Lookup("rp2-pico-w")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1012C000), picoW.DriveBase)
	assert.Equal(t, 208*4096, picoW.ImageSize)
}

func TestLookup_GenericFallback(t *testing.T) {
	p, ok := Lookup("esp32")
	require.True(t, ok)
	assert.Equal(t, "esp32-generic", p.Name)

	p, ok = Lookup(" ESP8266 ")
	require.True(t, ok)
	assert.Equal(t, "esp8266-generic", p.Name)

	_, ok = Lookup("samd51")
	assert.False(t, ok)
}

func TestInferPort(t *testing.T) {
	cases := map[string]string{
		"firmware/esp32-20220618-v1.19.1.bin":   "esp32",
		"esp32spiram-20220618-v1.19.1.bin":      "esp32",
		"rp2-pico-20230426-v1.20.0.uf2":         "rp2-pico",
		"rp2-pico-w-20230426-v1.20.0.uf2":       "rp2-pico-w",
		"firmware/esp8266-20220618-v1.19.1.bin": "esp8266",
		"mystery.bin":                           "mystery",
	}
	for in, want := range cases {
		assert.Equal(t, want, InferPort(in), in)
	}
}
