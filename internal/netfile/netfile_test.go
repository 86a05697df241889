package netfile

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleNet = `<?xml version="1.0"?>
<net>
  <junction id="J1" type="priority"/>
  <junction id="J2" type="traffic_light"/>
  <junction id="J3" type="priority"/>
  <edge id=":J2_0" from="J2" to="J2">
    <lane id=":J2_0_0"/>
  </edge>
  <edge id="e_A_J1" from="A" to="J1">
    <lane id="e_A_J1_0"/>
    <lane id="e_A_J1_1"/>
  </edge>
  <edge id="e_J1_J2" from="J1" to="J2">
    <lane id="e_J1_J2_0"/>
  </edge>
  <edge id="e_J2_J3" from="J2" to="J3">
    <lane id="e_J2_J3_0"/>
  </edge>
  <edge id="e_J3_B" from="J3" to="B">
    <lane id="e_J3_B_0"/>
  </edge>
</net>`

func writeSample(t *testing.T, gz bool) string {
	t.Helper()
	dir := t.TempDir()
	name := "scenario.net.xml"
	if gz {
		name += ".gz"
	}
	path := filepath.Join(dir, name)
	if !gz {
		require.NoError(t, os.WriteFile(path, []byte(sampleNet), 0o644))
		return path
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(sampleNet))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestBuildLaneToEdgeMapSkipsInternalEdges(t *testing.T) {
	path := writeSample(t, false)
	m, err := BuildLaneToEdgeMap(path)
	require.NoError(t, err)
	require.Equal(t, "e_A_J1", m["e_A_J1_0"])
	require.Equal(t, "e_A_J1", m["e_A_J1_1"])
	require.NotContains(t, m, ":J2_0_0")
}

func TestBuildLaneToEdgeMapHandlesGzip(t *testing.T) {
	path := writeSample(t, true)
	m, err := BuildLaneToEdgeMap(path)
	require.NoError(t, err)
	require.Equal(t, "e_J2_J3", m["e_J2_J3_0"])
}

func TestBuildStructuralNeighborhoodMapFindsNearestLights(t *testing.T) {
	path := writeSample(t, false)
	m, err := BuildStructuralNeighborhoodMap(path, []string{"J1", "J2", "J3"})
	require.NoError(t, err)
	require.Equal(t, []string{"J2"}, m["J1"])
	require.Equal(t, []string{"J1", "J3"}, m["J2"])
	require.Equal(t, []string{"J2"}, m["J3"])
}

func TestBuildLaneToEdgeMapMissingFile(t *testing.T) {
	_, err := BuildLaneToEdgeMap("/no/such/file.net.xml")
	require.Error(t, err)
}

func TestBuildJunctionTopologyReadsTypesAndIncomingEdges(t *testing.T) {
	path := writeSample(t, false)
	topo, err := BuildJunctionTopology(path)
	require.NoError(t, err)

	require.Equal(t, "priority", topo.Types["J1"])
	require.Equal(t, "traffic_light", topo.Types["J2"])
	require.Equal(t, "priority", topo.Types["J3"])

	require.Contains(t, topo.IncomingEdges, "J1")
	require.Equal(t, 2, topo.IncomingEdges["J1"]["e_A_J1"].NumLanes)
	require.Equal(t, []string{"e_A_J1_0", "e_A_J1_1"}, topo.IncomingEdges["J1"]["e_A_J1"].Lanes)

	require.Contains(t, topo.IncomingEdges, "J2")
	require.Equal(t, 1, topo.IncomingEdges["J2"]["e_J1_J2"].NumLanes)
	require.NotContains(t, topo.IncomingEdges["J2"], ":J2_0")

	require.Contains(t, topo.IncomingEdges, "J3")
	require.Equal(t, 1, topo.IncomingEdges["J3"]["e_J2_J3"].NumLanes)
}

func TestBuildJunctionTopologyMissingFile(t *testing.T) {
	_, err := BuildJunctionTopology("/no/such/file.net.xml")
	require.Error(t, err)
}
