package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hupe1980/zvec"
	"github.com/hupe1980/zvec/snapshot"
)

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func newAddCmd() *cobra.Command {
	var (
		meta  string
		docID string
	)

	cmd := &cobra.Command{
		Use:   "add <v1,v2,...>",
		Short: "Add a vector with optional metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := parseVector(args[0])
			if err != nil {
				return err
			}

			e, err := openEngine(false)
			if err != nil {
				return err
			}
			defer e.Close()

			var id uuid.UUID
			if docID != "" {
				parsed, err := uuid.Parse(docID)
				if err != nil {
					return fmt.Errorf("invalid document id: %w", err)
				}
				id, err = e.AddWithID(parsed, vec, []byte(meta))
				if err != nil {
					return err
				}
			} else {
				id, err = e.Add(vec, []byte(meta))
				if err != nil {
					return err
				}
			}

			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&meta, "meta", "", "metadata payload (up to 512 bytes)")
	cmd.Flags().StringVar(&docID, "id", "", "explicit document id (UUID)")

	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		topK int
		ef   int
		scan bool
	)

	cmd := &cobra.Command{
		Use:   "search <v1,v2,...>",
		Short: "Search for the nearest documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := parseVector(args[0])
			if err != nil {
				return err
			}

			e, err := openEngine(true)
			if err != nil {
				return err
			}
			defer e.Close()

			var results []zvec.SearchResult
			if scan {
				results, err = e.ScanSearch(context.Background(), query, topK)
			} else {
				results, err = e.Search(query, topK, zvec.WithSearchEF(ef))
			}
			if err != nil {
				return err
			}

			for _, r := range results {
				fmt.Printf("%s\t%.6f\t%s\n", r.ID, r.Score, r.Metadata)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "k", 10, "number of results")
	cmd.Flags().IntVar(&ef, "ef", 64, "search beam width")
	cmd.Flags().BoolVar(&scan, "scan", false, "exact linear scan instead of the graph")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			e, err := openEngine(true)
			if err != nil {
				return err
			}
			defer e.Close()

			doc, found := e.GetByID(id)
			if !found {
				return fmt.Errorf("not found: %s", id)
			}

			fmt.Printf("vector: %v\nmetadata: %s\n", doc.Vector, doc.Metadata)
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete one document by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			e, err := openEngine(false)
			if err != nil {
				return err
			}
			defer e.Close()

			ok, err := e.Delete(id)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("not found")
				return nil
			}

			fmt.Println("deleted")
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print engine statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(true)
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.Stats()
			fmt.Printf("dim:         %d\n", s.Dim)
			fmt.Printf("count:       %d\n", s.Count)
			fmt.Printf("deleted:     %d\n", s.Deleted)
			fmt.Printf("live:        %d\n", s.Live)
			fmt.Printf("capacity:    %d\n", s.MaxCount)
			fmt.Printf("neighbours:  %d\n", s.MaxNeighbors)
			fmt.Printf("layers:      %d\n", s.MaxLayers)
			fmt.Printf("metric:      %s\n", s.Metric)
			fmt.Printf("entry point: %d (level %d)\n", s.EntryPoint, s.EntryPointLevel)
			for l, n := range s.LayerEdges {
				fmt.Printf("layer %d:     %d edges\n", l, n)
			}
			fmt.Printf("version:     %d\n", s.Version)
			fmt.Printf("healthy:     %v\n", e.IsHealthy())
			return nil
		},
	}
}

func newVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the file without tombstoned slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(false)
			if err != nil {
				return err
			}
			defer e.Close()

			before := e.Count()
			if err := e.Vacuum(); err != nil {
				return err
			}

			fmt.Printf("vacuumed: %d slots -> %d live documents\n", before, e.Count())
			return nil
		},
	}
}

func newBackupCmd() *cobra.Command {
	var codec string

	cmd := &cobra.Command{
		Use:   "backup <snapshot-path>",
		Short: "Write a compressed snapshot of the backing file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := snapshot.ParseCodec(codec)
			if err != nil {
				return err
			}

			e, err := openEngine(true)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Backup(context.Background(), args[0], snapshot.WithCodec(c)); err != nil {
				return err
			}

			fmt.Printf("backup written to %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&codec, "codec", "zstd", "snapshot compression (none|lz4|zstd)")

	return cmd
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <snapshot-path>",
		Short: "Restore the backing file from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := zvec.RestoreBackup(context.Background(), args[0], dbPath); err != nil {
				return err
			}

			fmt.Printf("restored %s from %s\n", dbPath, args[0])
			return nil
		},
	}
}
