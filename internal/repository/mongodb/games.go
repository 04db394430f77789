package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// compile-time check that *Store implements repository.GameRepository
var _ repository.GameRepository = (*Store)(nil)

var (
	byFirstTitle = bson.D{{Key: "titles.0", Value: 1}}
	hasVideo     = bson.M{"curator.url": bson.M{"$type": "string"}}
	hasNoVideo   = bson.M{"curator.url": bson.M{"$not": bson.M{"$type": "string"}}}
)

func returnAfter() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

// ratingOf addresses the rating entry of userID with an array filter.
func ratingOf(userID string) options.ArrayFilters {
	return options.ArrayFilters{Filters: []interface{}{bson.M{"r.userId": userID}}}
}

// =========================================================================
// READS
// =========================================================================

// GetByID loads one game by id.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Game, error) {
	var g model.Game
	err := s.games.FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if err != nil {
		return nil, mapError(err, "getting game", apperror.NotFound("game", "id", id), nil)
	}
	return &g, nil
}

// GetByTitle finds the game owning title, bumping searchCount in the same
// document write when incSearch is set.
func (s *Store) GetByTitle(ctx context.Context, title string, incSearch bool) (*model.Game, error) {
	var (
		g   model.Game
		err error
	)
	filter := bson.M{"titles": title}
	if incSearch {
		err = s.games.FindOneAndUpdate(ctx, filter,
			bson.M{"$inc": bson.M{"searchCount": 1}}, returnAfter()).Decode(&g)
	} else {
		err = s.games.FindOne(ctx, filter).Decode(&g)
	}
	if err != nil {
		return nil, mapError(err, "getting game by title", apperror.NotFound("game", "title", title), nil)
	}
	return &g, nil
}

// Search matches fragment as a literal substring of any title.
func (s *Store) Search(ctx context.Context, fragment string, opts repository.ListOptions) ([]model.Game, error) {
	filter := bson.M{"titles": bson.M{"$regex": regexp.QuoteMeta(fragment)}}
	if opts.CuratedOnly {
		filter = bson.M{"$and": bson.A{filter, hasVideo}}
	}
	return s.find(ctx, filter, byFirstTitle, opts)
}

// List returns one page sorted by first title along with the total count.
func (s *Store) List(ctx context.Context, opts repository.ListOptions) ([]model.Game, int64, error) {
	filter := bson.M{}
	if opts.CuratedOnly {
		filter = hasVideo
	}
	total, err := s.games.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("mongodb: counting games: %w", err)
	}
	games, err := s.find(ctx, filter, byFirstTitle, opts)
	if err != nil {
		return nil, 0, err
	}
	return games, total, nil
}

// TopSearched sorts by searchCount, then first title.
func (s *Store) TopSearched(ctx context.Context, opts repository.ListOptions) ([]model.Game, error) {
	filter := bson.M{}
	if opts.CuratedOnly {
		filter = hasVideo
	}
	sort := bson.D{{Key: "searchCount", Value: -1}, {Key: "titles.0", Value: 1}}
	return s.find(ctx, filter, sort, opts)
}

// ListRated returns every game with a numeric community rating. Ranking is
// done by the caller.
func (s *Store) ListRated(ctx context.Context, opts repository.ListOptions) ([]model.Game, error) {
	filter := bson.M{"communityRatings.rating": bson.M{"$type": "number"}}
	if opts.CuratedOnly {
		filter = bson.M{"$and": bson.A{filter, hasVideo}}
	}
	return s.find(ctx, filter, byFirstTitle, repository.ListOptions{})
}

// TopAsked ranks uncurated games by the size of askedBy.
func (s *Store) TopAsked(ctx context.Context, limit int) ([]model.Game, error) {
	match := bson.M{"$and": bson.A{hasNoVideo, bson.M{"askedBy.0": bson.M{"$exists": true}}}}
	return s.byAskers(ctx, match, bson.D{{Key: "titles.0", Value: 1}}, limit)
}

// ListRatedBy returns the games userID has rated.
func (s *Store) ListRatedBy(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Game, error) {
	return s.find(ctx, bson.M{"communityRatings.userId": userID}, byFirstTitle, opts)
}

// ListStaleUncurated returns games without a video whose last scrape is
// missing or older than before, most asked first.
func (s *Store) ListStaleUncurated(ctx context.Context, before time.Time, limit int) ([]model.Game, error) {
	match := bson.M{"$and": bson.A{
		hasNoVideo,
		bson.M{"$or": bson.A{
			bson.M{"lastCuratorScrapeAt": bson.M{"$exists": false}},
			bson.M{"lastCuratorScrapeAt": bson.M{"$lt": before}},
		}},
	}}
	return s.byAskers(ctx, match, bson.D{{Key: "searchCount", Value: -1}, {Key: "titles.0", Value: 1}}, limit)
}

func (s *Store) find(ctx context.Context, filter any, sort bson.D, opts repository.ListOptions) ([]model.Game, error) {
	findOpts := options.Find().SetSort(sort)
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.games.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: finding games: %w", err)
	}
	games := []model.Game{}
	if err := cursor.All(ctx, &games); err != nil {
		return nil, fmt.Errorf("mongodb: decoding games: %w", err)
	}
	return games, nil
}

// byAskers runs match, then sorts by number of askers and the tie-breakers in
// then.
func (s *Store) byAskers(ctx context.Context, match bson.M, then bson.D, limit int) ([]model.Game, error) {
	sort := append(bson.D{{Key: "askCount", Value: -1}}, then...)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$addFields", Value: bson.M{"askCount": bson.M{"$size": bson.M{"$ifNull": bson.A{"$askedBy", bson.A{}}}}}}},
		{{Key: "$sort", Value: sort}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}

	cursor, err := s.games.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("mongodb: aggregating games: %w", err)
	}
	games := []model.Game{}
	if err := cursor.All(ctx, &games); err != nil {
		return nil, fmt.Errorf("mongodb: decoding games: %w", err)
	}
	return games, nil
}

// =========================================================================
// CREATE / UPDATE / DELETE
// =========================================================================

func (s *Store) Create(ctx context.Context, g *model.Game) error {
	now := time.Now().UTC()
	g.ID = xid.New().String()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = model.StatusPending
	}
	nonNilSlices(g)

	_, err := s.games.InsertOne(ctx, g)
	return mapError(err, "inserting game", nil,
		apperror.Conflict("game", "title", strings.Join(g.Titles, ", ")))
}

func (s *Store) Update(ctx context.Context, g *model.Game) error {
	g.UpdatedAt = time.Now().UTC()
	if g.Titles == nil {
		g.Titles = []string{}
	}

	update := bson.M{"$set": bson.M{
		"titles":        g.Titles,
		"status":        g.Status,
		"lastUpdatedBy": g.LastUpdatedBy,
		"updatedAt":     g.UpdatedAt,
	}}
	if g.Curator != nil {
		update["$set"].(bson.M)["curator"] = g.Curator
	} else {
		update["$unset"] = bson.M{"curator": ""}
	}

	result, err := s.games.UpdateOne(ctx, bson.M{"_id": g.ID}, update)
	if err != nil {
		return mapError(err, "updating game", nil,
			apperror.Conflict("game", "title or curator url", strings.Join(g.Titles, ", ")))
	}
	if result.MatchedCount == 0 {
		return apperror.NotFound("game", "id", g.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.games.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb: deleting game %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("game", "id", id)
	}
	return nil
}

// =========================================================================
// CURATOR
// =========================================================================

// UpsertCurator looks the target up by curator url, then by title overlap,
// and merges the patch in one update. A new pending game is inserted when
// nothing matches.
func (s *Store) UpsertCurator(ctx context.Context, titles []string, patch repository.CuratorPatch, by string) (*model.Game, bool, error) {
	id, err := s.curatorTarget(ctx, titles, patch.URL)
	if err != nil {
		return nil, false, err
	}
	now := time.Now().UTC()

	if id == "" {
		g := &model.Game{
			ID:            xid.New().String(),
			Titles:        titles,
			Curator:       curatorFromPatch(patch, now),
			SearchCount:   1,
			Status:        model.StatusPending,
			LastUpdatedBy: by,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		nonNilSlices(g)
		if _, err := s.games.InsertOne(ctx, g); err != nil {
			return nil, false, mapError(err, "inserting curated game", nil,
				apperror.Conflict("game", "title", strings.Join(titles, ", ")))
		}
		return g, true, nil
	}

	set := bson.M{
		"curator.lastEditedAt": now,
		"lastUpdatedBy":        by,
		"updatedAt":            now,
	}
	for k, v := range curatorFields(patch) {
		set["curator."+k] = v
	}

	var g model.Game
	err = s.games.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{
		"$addToSet": bson.M{"titles": bson.M{"$each": titles}},
		"$set":      set,
		"$inc":      bson.M{"searchCount": 1},
	}, returnAfter()).Decode(&g)
	if err != nil {
		return nil, false, mapError(err, "merging curator entry",
			apperror.NotFound("game", "id", id),
			apperror.Conflict("game", "title", strings.Join(titles, ", ")))
	}
	return &g, false, nil
}

// curatorTarget returns the id of the game a curator write should land on, or
// "" when a new game is needed.
func (s *Store) curatorTarget(ctx context.Context, titles []string, url string) (string, error) {
	var found struct {
		ID string `bson:"_id"`
	}
	idOnly := options.FindOne().SetProjection(bson.M{"_id": 1})

	if url != "" {
		err := s.games.FindOne(ctx, bson.M{"curator.url": url}, idOnly).Decode(&found)
		if err == nil {
			return found.ID, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return "", fmt.Errorf("mongodb: looking up curator url: %w", err)
		}
	}

	cursor, err := s.games.Find(ctx, bson.M{"titles": bson.M{"$in": titles}},
		options.Find().SetProjection(bson.M{"_id": 1}).SetLimit(2))
	if err != nil {
		return "", fmt.Errorf("mongodb: looking up titles: %w", err)
	}
	var owners []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &owners); err != nil {
		return "", fmt.Errorf("mongodb: decoding title owners: %w", err)
	}
	switch len(owners) {
	case 0:
		return "", nil
	case 1:
		return owners[0].ID, nil
	}
	return "", apperror.Conflict("game", "title", strings.Join(titles, ", "))
}

func (s *Store) SetCuratorRating(ctx context.Context, title string, rating *float64, review *string, by string) (*model.Game, error) {
	now := time.Now().UTC()
	set := bson.M{"curator.lastEditedAt": now, "lastUpdatedBy": by, "updatedAt": now}
	unset := bson.M{}
	setOrUnset(set, unset, "curator.rating", rating)
	setOrUnset(set, unset, "curator.review", review)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var g model.Game
	err := s.games.FindOneAndUpdate(ctx, bson.M{"titles": title}, update, returnAfter()).Decode(&g)
	if err != nil {
		return nil, mapError(err, "setting curator rating", apperror.NotFound("game", "title", title), nil)
	}
	return &g, nil
}

func (s *Store) SetCuratorVideo(ctx context.Context, id string, patch repository.CuratorPatch, by string, at time.Time) (*model.Game, error) {
	at = at.UTC()
	set := bson.M{
		"curator.lastEditedAt": at,
		"lastCuratorScrapeAt":  at,
		"lastUpdatedBy":        by,
		"updatedAt":            at,
	}
	unset := bson.M{}
	for field, value := range map[string]string{
		"curator.url":           patch.URL,
		"curator.publishedDate": patch.PublishedDate,
		"curator.videoTitle":    patch.VideoTitle,
		"curator.thumbnail":     patch.Thumbnail,
	} {
		if value == "" {
			unset[field] = ""
		} else {
			set[field] = value
		}
	}
	setOrUnset(set, unset, "curator.timestamp", patch.Timestamp)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var g model.Game
	err := s.games.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, returnAfter()).Decode(&g)
	if err != nil {
		return nil, mapError(err, "setting curator video",
			apperror.NotFound("game", "id", id),
			apperror.Conflict("game", "curator url", patch.URL))
	}
	return &g, nil
}

func (s *Store) MarkCuratorScrape(ctx context.Context, id string, by string, at time.Time) (*model.Game, error) {
	at = at.UTC()
	var g model.Game
	err := s.games.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"lastCuratorScrapeAt": at,
		"lastUpdatedBy":       by,
		"updatedAt":           at,
	}}, returnAfter()).Decode(&g)
	if err != nil {
		return nil, mapError(err, "marking curator scrape", apperror.NotFound("game", "id", id), nil)
	}
	return &g, nil
}

// =========================================================================
// COMMUNITY RATINGS
// =========================================================================

// ReplaceRating rewrites the entry of r.UserID in place. The filter requires
// the entry to exist, so a concurrent removal surfaces as ErrNotFound.
func (s *Store) ReplaceRating(ctx context.Context, title string, r model.CommunityRating, incSearch bool) (*model.Game, error) {
	set := bson.M{
		"communityRatings.$[r].lastEditedAt": r.LastEditedAt.UTC(),
		"updatedAt":                          r.LastEditedAt.UTC(),
	}
	unset := bson.M{}
	setOrUnset(set, unset, "communityRatings.$[r].rating", r.Rating)
	setOrUnset(set, unset, "communityRatings.$[r].review", r.Review)

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if incSearch {
		update["$inc"] = bson.M{"searchCount": 1}
	}

	var g model.Game
	err := s.games.FindOneAndUpdate(ctx,
		bson.M{"titles": title, "communityRatings.userId": r.UserID},
		update,
		returnAfter().SetArrayFilters(ratingOf(r.UserID)),
	).Decode(&g)
	if err != nil {
		return nil, mapError(err, "replacing rating", apperror.NotFound("rating", "user", r.UserID), nil)
	}
	return &g, nil
}

// AppendRating pushes a first rating. The filter excludes games the user has
// already rated, so two concurrent appends cannot both land.
func (s *Store) AppendRating(ctx context.Context, title string, r model.CommunityRating) (*model.Game, error) {
	r.LastEditedAt = r.LastEditedAt.UTC()
	var g model.Game
	err := s.games.FindOneAndUpdate(ctx,
		bson.M{"titles": title, "communityRatings.userId": bson.M{"$ne": r.UserID}},
		bson.M{
			"$push": bson.M{"communityRatings": r},
			"$inc":  bson.M{"searchCount": 1},
			"$set":  bson.M{"updatedAt": r.LastEditedAt},
		},
		returnAfter(),
	).Decode(&g)
	if err != nil {
		return nil, mapError(err, "appending rating", apperror.NotFound("game", "title", title), nil)
	}
	return &g, nil
}

// ClearRatingFields unsets the requested fields, then pulls the entry if it
// has neither a rating nor a review left.
func (s *Store) ClearRatingFields(ctx context.Context, title, userID string, clearRating, clearReview bool) (*model.Game, error) {
	unset := bson.M{}
	if clearRating {
		unset["communityRatings.$[r].rating"] = ""
	}
	if clearReview {
		unset["communityRatings.$[r].review"] = ""
	}
	if len(unset) > 0 {
		result, err := s.games.UpdateOne(ctx,
			bson.M{"titles": title, "communityRatings.userId": userID},
			bson.M{"$unset": unset},
			options.Update().SetArrayFilters(ratingOf(userID)),
		)
		if err != nil {
			return nil, fmt.Errorf("mongodb: clearing rating fields: %w", err)
		}
		if result.MatchedCount == 0 {
			return nil, apperror.NotFound("rating", "user", userID)
		}
	}

	var g model.Game
	err := s.games.FindOneAndUpdate(ctx, bson.M{"titles": title}, bson.M{
		"$pull": bson.M{"communityRatings": bson.M{
			"userId": userID,
			"rating": bson.M{"$exists": false},
			"review": bson.M{"$exists": false},
		}},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}, returnAfter()).Decode(&g)
	if err != nil {
		return nil, mapError(err, "pruning rating", apperror.NotFound("game", "title", title), nil)
	}
	return &g, nil
}

// =========================================================================
// ASKERS / DAILY PICK
// =========================================================================

func (s *Store) AddAsker(ctx context.Context, title, userID string) (*model.Game, error) {
	var g model.Game
	err := s.games.FindOneAndUpdate(ctx, bson.M{"titles": title},
		bson.M{"$addToSet": bson.M{"askedBy": userID}}, returnAfter()).Decode(&g)
	if err != nil {
		return nil, mapError(err, "adding asker", apperror.NotFound("game", "title", title), nil)
	}
	return &g, nil
}

// PickDaily samples one eligible game, then stamps it with a write that
// re-checks eligibility. Losing that race to another picker is ErrConflict.
func (s *Store) PickDaily(ctx context.Context, cutoff, now time.Time) (*model.Game, error) {
	eligible := bson.M{"$or": bson.A{
		bson.M{"lastDailyPickAt": bson.M{"$exists": false}},
		bson.M{"lastDailyPickAt": bson.M{"$lt": cutoff.UTC()}},
	}}

	cursor, err := s.games.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: eligible}},
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: 1}}}},
		{{Key: "$project", Value: bson.M{"_id": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("mongodb: sampling daily pick: %w", err)
	}
	var sampled []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &sampled); err != nil {
		return nil, fmt.Errorf("mongodb: decoding daily pick: %w", err)
	}
	if len(sampled) == 0 {
		return nil, apperror.NotFound("game", "daily pick eligibility", "any")
	}
	id := sampled[0].ID

	var g model.Game
	err = s.games.FindOneAndUpdate(ctx,
		bson.M{"$and": bson.A{bson.M{"_id": id}, eligible}},
		bson.M{"$set": bson.M{"lastDailyPickAt": now.UTC()}},
		returnAfter(),
	).Decode(&g)
	if err != nil {
		return nil, mapError(err, "stamping daily pick", apperror.Conflict("daily pick", "game", id), nil)
	}
	return &g, nil
}

// =========================================================================
// HELPERS
// =========================================================================

// nonNilSlices makes sure arrays are stored as [] rather than null, so that
// $push and $addToSet keep working on them.
func nonNilSlices(g *model.Game) {
	if g.Titles == nil {
		g.Titles = []string{}
	}
	if g.CommunityRatings == nil {
		g.CommunityRatings = []model.CommunityRating{}
	}
	if g.AskedBy == nil {
		g.AskedBy = []string{}
	}
}

// curatorFields lists the patch fields that are set, keyed by bson name.
func curatorFields(p repository.CuratorPatch) bson.M {
	fields := bson.M{}
	if p.URL != "" {
		fields["url"] = p.URL
	}
	if p.PublishedDate != "" {
		fields["publishedDate"] = p.PublishedDate
	}
	if p.VideoTitle != "" {
		fields["videoTitle"] = p.VideoTitle
	}
	if p.Thumbnail != "" {
		fields["thumbnail"] = p.Thumbnail
	}
	if p.Timestamp != nil {
		fields["timestamp"] = *p.Timestamp
	}
	if p.Rating != nil {
		fields["rating"] = *p.Rating
	}
	if p.Review != nil {
		fields["review"] = *p.Review
	}
	return fields
}

func curatorFromPatch(p repository.CuratorPatch, now time.Time) *model.CuratorEntry {
	return &model.CuratorEntry{
		URL:           p.URL,
		PublishedDate: p.PublishedDate,
		VideoTitle:    p.VideoTitle,
		Thumbnail:     p.Thumbnail,
		Timestamp:     p.Timestamp,
		Rating:        p.Rating,
		Review:        p.Review,
		LastEditedAt:  &now,
	}
}

// setOrUnset sets field to *v, or unsets it when v is nil.
func setOrUnset[T any](set, unset bson.M, field string, v *T) {
	if v == nil {
		unset[field] = ""
		return
	}
	set[field] = *v
}
