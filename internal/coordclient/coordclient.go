// Package coordclient is the Coordinator Client collaborator: it fetches
// the region map, reads versioned control keys ("txn-duration",
// "safe-point-update-disable"), resolves region addresses, and publishes
// the cluster GC safe point. It generalizes scheduler/client.client's
// leader-following connection management (initClusterID/updateLeader/
// getOrCreateGRPCConn) to a plain multi-endpoint fallback, since this
// driver only needs a handful of coordinator RPCs rather than a full PD
// client.
package coordclient

import (
	"context"
	"sync"

	"github.com/HaotMan/dingo/internal/region"
	"github.com/HaotMan/dingo/internal/rpcutil"
	"github.com/HaotMan/dingo/internal/tsoclient"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const methodBase = "/dingo.coordinator.CoordinatorService"

// Control-key names, per spec.md §3/§6.
const (
	KeyTxnDuration          = "txn-duration"
	KeySafePointUpdateDisable = "safe-point-update-disable"
)

// Client is the Coordinator Client collaborator.
type Client interface {
	// GetRegionMap returns every region known to the cluster as of reqTs.
	GetRegionMap(ctx context.Context, reqTs tsoclient.Timestamp) ([]region.Region, error)
	// KVRange reads a single control key. found is false if the key is
	// absent.
	KVRange(ctx context.Context, key string) (value []byte, found bool, err error)
	// UpdateGCSafePoint publishes the new cluster GC safe point.
	UpdateGCSafePoint(ctx context.Context, reqTs tsoclient.Timestamp, safePoint tsoclient.Timestamp) error
	// ResolveRegion maps a region id to the network address currently
	// serving it, implementing regionrouter.AddressResolver.
	ResolveRegion(ctx context.Context, regionID uint64) (addr string, err error)
	// ComputingNodeEndpoints lists every live computing-node endpoint in
	// the cluster, implementing peerapi.MemberLister.
	ComputingNodeEndpoints(ctx context.Context) ([]string, error)
	// Close releases all held connections.
	Close()
}

type getRegionMapRequest struct {
	ReqTs uint64 `json:"req_ts"`
}
type getRegionMapResponse struct {
	Regions []wireRegion
}

// wireRegion is the over-the-wire shape of a region.Region; kept distinct
// from region.Region so the internal model doesn't have to carry json
// tags for a wire format that belongs to the coordinator's protocol.
type wireRegion struct {
	ID       uint64 `json:"id"`
	Type     int32  `json:"type"`
	StartKey []byte `json:"start_key"`
	EndKey   []byte `json:"end_key"`
}

type kvRangeRequest struct {
	Key string `json:"key"`
}
type kvRangeResponse struct {
	Found bool   `json:"found"`
	Value []byte `json:"value"`
}

type updateGCSafePointRequest struct {
	ReqTs     uint64 `json:"req_ts"`
	SafePoint uint64 `json:"safe_point"`
}
type updateGCSafePointResponse struct {
	NewSafePoint uint64 `json:"new_safe_point"`
}

type resolveRegionRequest struct {
	RegionID uint64 `json:"region_id"`
}
type resolveRegionResponse struct {
	Address string `json:"address"`
}

type computingNodesRequest struct{}
type computingNodesResponse struct {
	Endpoints []string `json:"endpoints"`
}

type client struct {
	conns *rpcutil.ConnCache

	mu      sync.Mutex
	leader  string
	addrs   []string
}

// NewClient creates a Client over addrs without dialling any of them.
// Each call tries the endpoint that last succeeded first, then the rest
// of the list in order, and remembers whichever endpoint answers.
func NewClient(addrs []string, sec rpcutil.Security) (Client, error) {
	if len(addrs) == 0 {
		return nil, errors.New("coordclient: no coordinator addresses given")
	}
	return &client{conns: rpcutil.NewConnCache(sec), addrs: addrs}, nil
}

func (c *client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	c.mu.Lock()
	ordered := make([]string, 0, len(c.addrs))
	if c.leader != "" {
		ordered = append(ordered, c.leader)
	}
	for _, a := range c.addrs {
		if a != c.leader {
			ordered = append(ordered, a)
		}
	}
	c.mu.Unlock()

	var lastErr error
	for _, addr := range ordered {
		conn, err := c.conns.Get(addr)
		if err != nil {
			lastErr = err
			continue
		}
		if err := conn.Invoke(ctx, methodBase+"/"+method, req, resp, rpcutil.CallOpt()); err != nil {
			lastErr = err
			log.Warn("coordinator rpc failed, trying next endpoint", zap.String("addr", addr), zap.String("method", method), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.leader = addr
		c.mu.Unlock()
		return nil
	}
	return errors.Wrapf(lastErr, "all coordinator endpoints failed for %s", method)
}

func (c *client) GetRegionMap(ctx context.Context, reqTs tsoclient.Timestamp) ([]region.Region, error) {
	var resp getRegionMapResponse
	if err := c.invoke(ctx, "GetRegionMap", &getRegionMapRequest{ReqTs: uint64(reqTs)}, &resp); err != nil {
		return nil, errors.Wrap(err, "get region map")
	}
	regions := make([]region.Region, 0, len(resp.Regions))
	for _, wr := range resp.Regions {
		regions = append(regions, region.Region{
			ID:   wr.ID,
			Type: region.Type(wr.Type),
			Range: region.KeyRange{
				Start: wr.StartKey,
				End:   wr.EndKey,
			},
		})
	}
	return regions, nil
}

func (c *client) KVRange(ctx context.Context, key string) ([]byte, bool, error) {
	var resp kvRangeResponse
	if err := c.invoke(ctx, "KVRange", &kvRangeRequest{Key: key}, &resp); err != nil {
		return nil, false, errors.Wrapf(err, "kv range %q", key)
	}
	return resp.Value, resp.Found, nil
}

func (c *client) UpdateGCSafePoint(ctx context.Context, reqTs tsoclient.Timestamp, safePoint tsoclient.Timestamp) error {
	var resp updateGCSafePointResponse
	req := updateGCSafePointRequest{ReqTs: uint64(reqTs), SafePoint: uint64(safePoint)}
	if err := c.invoke(ctx, "UpdateGCSafePoint", &req, &resp); err != nil {
		return errors.Wrap(err, "update gc safe point")
	}
	return nil
}

func (c *client) ResolveRegion(ctx context.Context, regionID uint64) (string, error) {
	var resp resolveRegionResponse
	if err := c.invoke(ctx, "ResolveRegion", &resolveRegionRequest{RegionID: regionID}, &resp); err != nil {
		return "", errors.Wrapf(err, "resolve region %d", regionID)
	}
	return resp.Address, nil
}

func (c *client) ComputingNodeEndpoints(ctx context.Context) ([]string, error) {
	var resp computingNodesResponse
	if err := c.invoke(ctx, "ComputingNodeEndpoints", &computingNodesRequest{}, &resp); err != nil {
		return nil, errors.Wrap(err, "list computing node endpoints")
	}
	return resp.Endpoints, nil
}

func (c *client) Close() {
	c.conns.Close()
}
