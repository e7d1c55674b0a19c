package reranker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"litqa/internal/model"
)

// Embedder turns text into a fixed-dimension vector for the in-process
// biencoder backend.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HashEmbedder is a deterministic, dependency-free embedder: it hashes
// byte 3-grams into a fixed-size, L2-normalized vector. It exists so the
// in_process_biencoder backend works out of the box without a configured
// embedding endpoint; production deployments should substitute a real
// embedding model's Embedder implementation.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder builds a HashEmbedder with the given vector dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 128
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embedOne(t)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(s string) []float32 {
	v := make([]float32, h.dim)
	b := []byte(s)
	if len(b) < 3 {
		addGram(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(b[i:i+3], v)
		}
	}
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq > 0 {
		inv := float32(1.0 / math.Sqrt(sumSq))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

// Biencoder scores candidate passages by embedding the query and every
// passage into an ephemeral, per-call Qdrant collection and reading back
// cosine-similarity search results. Qdrant is used as a scoring engine
// rather than a persistent index — the collection is created fresh for
// each Rerank call and dropped afterward, since the Paper Finder's
// passages are task-scoped and never reused across Tasks.
type Biencoder struct {
	client   *pb.PointsClient
	collections pb.CollectionsClient
	embedder Embedder
}

// NewBiencoder builds a Biencoder against an already-dialed Qdrant gRPC
// connection's Points and Collections clients.
func NewBiencoder(points pb.PointsClient, collections pb.CollectionsClient, embedder Embedder) *Biencoder {
	return &Biencoder{client: &points, collections: collections, embedder: embedder}
}

func (b *Biencoder) Rerank(ctx context.Context, query string, passages []model.CandidatePassage) ([]model.RerankedPassage, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	collection := "litqa-rerank-" + uuid.NewString()
	if err := b.createCollection(ctx, collection); err != nil {
		return nil, fmt.Errorf("biencoder: creating collection: %w", err)
	}
	defer b.dropCollection(ctx, collection)

	texts := make([]string, len(passages)+1)
	texts[0] = query
	for i, p := range passages {
		texts[i+1] = p.Text
	}
	vectors, err := b.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("biencoder: embedding passages: %w", err)
	}

	if err := b.upsertPassages(ctx, collection, passages, vectors[1:]); err != nil {
		return nil, fmt.Errorf("biencoder: upserting points: %w", err)
	}

	scores, err := b.searchScores(ctx, collection, vectors[0], len(passages))
	if err != nil {
		return nil, fmt.Errorf("biencoder: searching: %w", err)
	}
	return scoreAndRank(passages, scores), nil
}

func (b *Biencoder) createCollection(ctx context.Context, name string) error {
	_, err := b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(b.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	return err
}

func (b *Biencoder) dropCollection(ctx context.Context, name string) {
	_, _ = b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
}

func (b *Biencoder) upsertPassages(ctx context.Context, collection string, passages []model.CandidatePassage, vectors [][]float32) error {
	points := make([]*pb.PointStruct, len(passages))
	for i, p := range passages {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(i)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}}},
			Payload: map[string]*pb.Value{
				"passage_id": {Kind: &pb.Value_StringValue{StringValue: p.PassageID}},
			},
		}
	}
	_, err := (*b.client).Upsert(ctx, &pb.UpsertPoints{CollectionName: collection, Points: points})
	return err
}

func (b *Biencoder) searchScores(ctx context.Context, collection string, queryVector []float32, limit int) ([]float64, error) {
	resp, err := (*b.client).Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	byPointIdx := make(map[uint64]float64, len(resp.Result))
	for _, r := range resp.Result {
		if num, ok := r.Id.GetPointIdOptions().(*pb.PointId_Num); ok {
			byPointIdx[num.Num] = float64(r.Score)
		}
	}
	scores := make([]float64, limit)
	for i := 0; i < limit; i++ {
		scores[i] = byPointIdx[uint64(i)]
	}
	return scores, nil
}
