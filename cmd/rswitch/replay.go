package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/rp4-platform/rswitch/dataplane"
)

// replay feeds every frame of the input pcap through the pipeline and
// writes surviving frames to the output pcap, if one is configured.
func replay(ctx context.Context, ppl *dataplane.Pipeline, cfg *ReplayConfig, log *zap.SugaredLogger) error {
	in, err := os.Open(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to open input pcap: %w", err)
	}
	defer in.Close()

	reader, err := pcapgo.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read pcap header: %w", err)
	}

	var writer *pcapgo.Writer
	if cfg.OutputPath != "" {
		out, err := os.Create(cfg.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to create output pcap: %w", err)
		}
		defer out.Close()

		writer = pcapgo.NewWriter(out)
		if err := writer.WriteFileHeader(reader.Snaplen(), layers.LinkTypeEthernet); err != nil {
			return fmt.Errorf("failed to write pcap header: %w", err)
		}
	}

	processed, emitted := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, captureInfo, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read frame %d: %w", processed, err)
		}
		processed++

		out, egIf, delivered := ppl.Process(frame, cfg.IngressIf)
		if !delivered {
			continue
		}
		emitted++

		if writer == nil {
			continue
		}
		captureInfo.CaptureLength = len(out)
		captureInfo.Length = len(out)
		if err := writer.WritePacket(captureInfo, out); err != nil {
			return fmt.Errorf("failed to write frame for interface %d: %w", egIf, err)
		}
	}

	log.Infof("replay finished: %d frames processed, %d emitted", processed, emitted)
	return nil
}
