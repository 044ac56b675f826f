// Command exodb-admin exposes a small read-only HTTP surface over a
// running Environment: disk usage, store names, and cache/GC health. It
// deliberately stops short of the JMX-style management surface and CLI
// wrappers the coordinator itself stays silent on — this binary only
// reads already-public Environment observers, never drives transactions.
package main

import (
	"flag"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/exodb"
	"github.com/sharedcode/exodb/env"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	location := flag.String("location", "./data", "log storage location")
	flag.Parse()

	l, err := env.OpenFileLog(*location)
	if err != nil {
		slog.Error("failed to open log", "err", err)
		return
	}
	e, err := env.OpenEnvironment(l, exodb.NewDefaultConfig())
	if err != nil {
		slog.Error("failed to open environment", "err", err)
		return
	}
	defer e.Close(false)

	r := gin.Default()

	r.GET("/diskUsage", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"bytes": e.GetDiskUsage()})
	})

	r.GET("/stores", func(c *gin.Context) {
		type storeInfo struct {
			Name     string `json:"name"`
			PublicID string `json:"publicId"`
		}
		stores, err := e.ComputeInReadonlyTransaction(func(t *env.Transaction) (any, error) {
			names := e.GetAllStoreNames(t)
			out := make([]storeInfo, 0, len(names))
			for _, name := range names {
				id, _ := e.StorePublicID(name, t)
				out = append(out, storeInfo{Name: name, PublicID: id.String()})
			}
			return out, nil
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stores": stores})
	})

	r.GET("/gc/utilization", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"utilization": e.GCUtilization()})
	})

	r.GET("/cache/hitRates", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"storeGetCache":  e.StoreGetCacheHitRate(),
			"treeNodesCache": e.TreeNodesCacheHitRate(),
		})
	})

	if err := r.Run(*addr); err != nil {
		slog.Error("admin server stopped", "err", err)
	}
}
