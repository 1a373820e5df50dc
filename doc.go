// Package pcapidx builds and reads secondary indexes over BGZF-compressed
// pcap captures, and uses them to extract packet runs without decompressing
// the whole capture.
//
// An index holds one record every N packets (ordinal mode), one record each
// time packet timestamps advance by more than a fixed interval (temporal
// mode), or both. Each record stores the capture locator of a packet header,
// an opaque BGZF virtual offset.
//
// Work happens through a Session, which owns one index file for the life of
// one operation:
//
//	capture, err := pcapidx.OpenCapture(ctx, "trace.pcap.gz")
//	if err != nil {
//		return err
//	}
//	defer capture.Close()
//
//	sess, err := pcapidx.CreateIndex("trace.pcapidx", pcapidx.WithCapture(capture))
//	if err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	res, err := sess.Build(ctx, pcapidx.OrdinalIndex(1000))
//
// Extraction verifies the index, seeks the capture to the nearest preceding
// record and scans forward to the exact boundary:
//
//	sess, err := pcapidx.OpenIndex("trace.pcapidx",
//		pcapidx.WithCapture(capture),
//		pcapidx.WithOutput(out),
//	)
//	...
//	res, err := sess.Extract(ctx, pcapidx.OrdinalRange(9500, 9999))
//
// Index files use the host's native byte order.
package pcapidx
