package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/magnet"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/metainfo"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/peering"
)

func init() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

func main() {
	logger := zap.L()
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Error("Usage: mybittorrent <command> [arguments]")
		os.Exit(1)
	}
	command := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch command {
	case "decode":
		err = handleDecode(os.Args)
	case "info":
		err = handleInfo(os.Args)
	case "peers":
		err = handlePeers(ctx, os.Args)
	case "handshake":
		err = handleHandshake(ctx, os.Args)
	case "download_piece":
		err = handleDownloadPiece(ctx, os.Args)
	case "download":
		err = handleDownload(ctx, os.Args)
	case "magnet_parse":
		err = handleMagnetParse(os.Args)
	default:
		logger.Error("Unknown command", zap.String("command", command))
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func peeringConfig() peering.Config {
	cfg := peering.DefaultConfig()
	cfg.Logger = zap.L()
	return cfg
}

func readTorrent(path string) (*metainfo.Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}
	meta, err := metainfo.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent file: %w", err)
	}
	return meta, nil
}

// Command handlers

func handleDecode(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	decoded, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(bencode.ToNative(decoded))
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func handleInfo(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: info <torrent-file>")
	}
	meta, err := readTorrent(args[2])
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", meta.Announce)
	fmt.Printf("Length: %d\n", meta.TotalLength)
	fmt.Printf("Info Hash: %s\n", meta.InfoHashHex())
	fmt.Printf("Piece Length: %d\n", meta.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, hash := range meta.PieceHashes {
		fmt.Printf("%x\n", hash)
	}
	return nil
}

func handlePeers(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: peers <torrent-file|magnet-link>")
	}
	cfg := peeringConfig()

	var req peering.AnnounceRequest
	if strings.HasPrefix(args[2], "magnet:") {
		link, err := magnet.Parse(args[2])
		if err != nil {
			return fmt.Errorf("failed to parse magnet link: %w", err)
		}
		if req, err = link.AnnounceRequest(cfg); err != nil {
			return err
		}
	} else {
		meta, err := readTorrent(args[2])
		if err != nil {
			return err
		}
		req = peering.RequestFor(meta, cfg)
	}

	resp, err := peering.NewTracker(cfg).Announce(ctx, req)
	if err != nil {
		return err
	}
	for _, peer := range resp.Peers {
		fmt.Println(peer)
	}
	return nil
}

func handleHandshake(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handshake <torrent-file> <peer-address>")
	}
	meta, err := readTorrent(args[2])
	if err != nil {
		return err
	}

	session, err := peering.Dial(ctx, args[3], meta, peeringConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Peer ID: %x\n", session.RemotePeerID())
	return nil
}

func handleDownloadPiece(ctx context.Context, args []string) error {
	if len(args) != 6 {
		return fmt.Errorf("usage: download_piece -o <output-path> <torrent-file> <piece-index>")
	}
	if args[2] != "-o" {
		return fmt.Errorf("expected -o flag, got: %s", args[2])
	}
	outputPath := args[3]

	pieceIndex, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("invalid piece index: %w", err)
	}
	meta, err := readTorrent(args[4])
	if err != nil {
		return err
	}

	client, err := peering.NewClient(ctx, meta, peeringConfig())
	if err != nil {
		return err
	}
	pieceData, err := client.DownloadPiece(ctx, pieceIndex)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, pieceData, 0644)
}

func handleDownload(ctx context.Context, args []string) error {
	if len(args) != 5 {
		return fmt.Errorf("usage: download -o <output-path> <torrent-file>")
	}
	if args[2] != "-o" {
		return fmt.Errorf("expected -o flag, got: %s", args[2])
	}
	outputPath := args[3]

	meta, err := readTorrent(args[4])
	if err != nil {
		return err
	}
	client, err := peering.NewClient(ctx, meta, peeringConfig())
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := client.Download(ctx, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func handleMagnetParse(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}

	// At least one tracker is required
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Printf("Tracker URL: %s\n", link.Trackers[0])
	fmt.Printf("Info Hash: %s\n", link.InfoHashHex())
	return nil
}
