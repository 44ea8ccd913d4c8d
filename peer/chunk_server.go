package peer

import (
	"errors"
	"net"
	"os"

	"tarun-kavipurapu/p2p-swarm/pkg/logger"
	"tarun-kavipurapu/p2p-swarm/pkg/protocol"
	"tarun-kavipurapu/p2p-swarm/pkg/storage"
	"tarun-kavipurapu/p2p-swarm/pkg/transport/tcp"
)

// serveChunk answers a single chunk request. Any invalid request, missing file or
// out-of-range index closes the connection without a response.
func (n *Node) serveChunk(conn net.Conn) {
	remote := conn.RemoteAddr()

	line, err := tcp.ReadRequestLine(conn, protocol.MaxRequestLine)
	if err != nil {
		logger.Sugar.Debugf("[ChunkServer] read request failed: remote=%s err=%v", remote, err)
		n.metrics.RecordServeFailure()
		return
	}

	filename, index, err := protocol.ParseChunkRequest(line)
	if err != nil {
		logger.Sugar.Debugf("[ChunkServer] rejected request: remote=%s err=%v", remote, err)
		n.metrics.RecordServeFailure()
		return
	}

	data, err := n.store.ReadChunk(filename, index)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrChunkOutOfRange) {
			logger.Sugar.Debugf("[ChunkServer] chunk unavailable: remote=%s file=%s chunk=%d", remote, filename, index)
		} else {
			logger.Sugar.Warnf("[ChunkServer] read chunk failed: file=%s chunk=%d err=%v", filename, index, err)
		}
		n.metrics.RecordServeFailure()
		return
	}

	if err := tcp.WriteChunkFrame(conn, storage.HashChunk(data), data); err != nil {
		logger.Sugar.Warnf("[ChunkServer] send failed: remote=%s file=%s chunk=%d err=%v", remote, filename, index, err)
		n.metrics.RecordServeFailure()
		return
	}
	n.metrics.RecordServed(len(data))
	logger.Sugar.Debugf("[ChunkServer] served: remote=%s file=%s chunk=%d bytes=%d", remote, filename, index, len(data))
}
