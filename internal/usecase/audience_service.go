package usecase

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autokita/wa-campaign-engine/internal/model"
	"github.com/autokita/wa-campaign-engine/internal/storage"
	"github.com/autokita/wa-campaign-engine/pkg/logger"
)

// AudienceService resolves segment criteria against the contact store.
// Resolve and Count are pure reads, safe to call for previews; Sync is the
// only operation that writes, replacing the segment's cached membership.
type AudienceService struct {
	contactRepo storage.ContactRepo
	segmentRepo storage.SegmentRepo
}

// NewAudienceService creates a new audience service
func NewAudienceService(contactRepo storage.ContactRepo, segmentRepo storage.SegmentRepo) *AudienceService {
	return &AudienceService{
		contactRepo: contactRepo,
		segmentRepo: segmentRepo,
	}
}

// matcher is one compiled criterion. A contact is in the audience when every
// matcher accepts it.
type matcher interface {
	matches(c model.Contact) bool
}

type leadStatusMatcher struct {
	op    string
	value string
}

func (m leadStatusMatcher) matches(c model.Contact) bool {
	if m.op == "!=" {
		return c.LeadStatus != m.value
	}
	return c.LeadStatus == m.value
}

type sourceMatcher struct {
	op    string
	value string
}

func (m sourceMatcher) matches(c model.Contact) bool {
	if m.op == "!=" {
		return c.Source != m.value
	}
	return c.Source == m.value
}

type vehicleInterestMatcher struct {
	substr string
}

func (m vehicleInterestMatcher) matches(c model.Contact) bool {
	return strings.Contains(strings.ToLower(c.VehicleInterest), m.substr)
}

type budgetMinMatcher struct {
	min float64
}

func (m budgetMinMatcher) matches(c model.Contact) bool {
	return c.Budget >= m.min
}

type budgetMaxMatcher struct {
	max float64
}

func (m budgetMaxMatcher) matches(c model.Contact) bool {
	return c.Budget <= m.max
}

type lastContactBeforeMatcher struct {
	t time.Time
}

func (m lastContactBeforeMatcher) matches(c model.Contact) bool {
	return c.UpdatedAt.Before(m.t)
}

type lastContactAfterMatcher struct {
	t time.Time
}

func (m lastContactAfterMatcher) matches(c model.Contact) bool {
	return c.UpdatedAt.After(m.t)
}

type createdBeforeMatcher struct {
	t time.Time
}

func (m createdBeforeMatcher) matches(c model.Contact) bool {
	return c.CreatedAt.Before(m.t)
}

type createdAfterMatcher struct {
	t time.Time
}

func (m createdAfterMatcher) matches(c model.Contact) bool {
	return c.CreatedAt.After(m.t)
}

type assignedToMatcher struct {
	id string
}

func (m assignedToMatcher) matches(c model.Contact) bool {
	return c.AssignedTo == m.id
}

type hasEmailMatcher struct {
	want bool
}

func (m hasEmailMatcher) matches(c model.Contact) bool {
	return (c.Email != "") == m.want
}

// compileCriteria turns raw criteria into typed matchers. Criteria whose
// field is not recognized, or whose value cannot be parsed, are skipped
// rather than rejected. Segment definitions come from an upstream editor
// that may know fields this engine does not; an unknown criterion must not
// make the whole segment unresolvable.
func compileCriteria(ctx context.Context, criteria []model.Criterion) []matcher {
	log := logger.FromContext(ctx)
	matchers := make([]matcher, 0, len(criteria))

	for _, criterion := range criteria {
		switch criterion.Field {
		case "lead_status":
			matchers = append(matchers, leadStatusMatcher{op: normalizeOperator(criterion.Operator), value: valueString(criterion.Value)})
		case "source":
			matchers = append(matchers, sourceMatcher{op: normalizeOperator(criterion.Operator), value: valueString(criterion.Value)})
		case "vehicle_interest":
			// Always substring match, the operator field is ignored here.
			matchers = append(matchers, vehicleInterestMatcher{substr: strings.ToLower(valueString(criterion.Value))})
		case "budget_min":
			if v, ok := valueFloat(criterion.Value); ok {
				matchers = append(matchers, budgetMinMatcher{min: v})
			} else {
				log.Debug("Skipping budget_min criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "budget_max":
			if v, ok := valueFloat(criterion.Value); ok {
				matchers = append(matchers, budgetMaxMatcher{max: v})
			} else {
				log.Debug("Skipping budget_max criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "last_contact_before":
			if t, ok := valueTime(criterion.Value); ok {
				matchers = append(matchers, lastContactBeforeMatcher{t: t})
			} else {
				log.Debug("Skipping last_contact_before criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "last_contact_after":
			if t, ok := valueTime(criterion.Value); ok {
				matchers = append(matchers, lastContactAfterMatcher{t: t})
			} else {
				log.Debug("Skipping last_contact_after criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "created_before":
			if t, ok := valueTime(criterion.Value); ok {
				matchers = append(matchers, createdBeforeMatcher{t: t})
			} else {
				log.Debug("Skipping created_before criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "created_after":
			if t, ok := valueTime(criterion.Value); ok {
				matchers = append(matchers, createdAfterMatcher{t: t})
			} else {
				log.Debug("Skipping created_after criterion with unparsable value", zap.Any("value", criterion.Value))
			}
		case "assigned_to":
			matchers = append(matchers, assignedToMatcher{id: valueString(criterion.Value)})
		case "has_email":
			matchers = append(matchers, hasEmailMatcher{want: valueBool(criterion.Value)})
		default:
			// Unknown fields narrow nothing. Tolerated on purpose.
			log.Debug("Ignoring unrecognized criterion field", zap.String("field", criterion.Field))
		}
	}
	return matchers
}

func normalizeOperator(op string) string {
	if op == "!=" {
		return "!="
	}
	return "="
}

func valueString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return stringify(v)
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func valueFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func valueTime(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func valueBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}

// Resolve evaluates criteria against all contacts and returns the matching
// set. An empty criteria list matches every contact.
func (s *AudienceService) Resolve(ctx context.Context, criteria []model.Criterion) ([]model.Contact, error) {
	contacts, err := s.contactRepo.FindAll(ctx)
	if err != nil {
		return nil, handleRepositoryError(ctx, err, "ResolveAudience", "")
	}

	matchers := compileCriteria(ctx, criteria)
	if len(matchers) == 0 {
		return contacts, nil
	}

	matched := make([]model.Contact, 0, len(contacts))
	for _, contact := range contacts {
		ok := true
		for _, m := range matchers {
			if !m.matches(contact) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, contact)
		}
	}
	return matched, nil
}

// Count returns the audience size without touching any membership cache.
func (s *AudienceService) Count(ctx context.Context, criteria []model.Criterion) (int, error) {
	matched, err := s.Resolve(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Sync re-resolves a segment's criteria and atomically replaces its cached
// membership, returning the new member count. Running it twice without data
// changes produces the same membership and count.
func (s *AudienceService) Sync(ctx context.Context, segmentID string) (int, error) {
	segment, err := s.segmentRepo.FindByID(ctx, segmentID)
	if err != nil {
		return 0, handleRepositoryError(ctx, err, "SyncSegment", segmentID)
	}

	criteria, err := segment.DecodeCriteria()
	if err != nil {
		return 0, handleRepositoryError(ctx, err, "SyncSegment DecodeCriteria", segmentID)
	}

	matched, err := s.Resolve(ctx, criteria)
	if err != nil {
		return 0, err
	}

	contactIDs := make([]string, 0, len(matched))
	for _, contact := range matched {
		contactIDs = append(contactIDs, contact.ID)
	}

	if err := s.segmentRepo.ReplaceMembers(ctx, segmentID, contactIDs); err != nil {
		return 0, handleRepositoryError(ctx, err, "SyncSegment ReplaceMembers", segmentID)
	}

	logger.FromContext(ctx).Info("Segment membership synced",
		zap.String("segment_id", segmentID),
		zap.Int("contact_count", len(contactIDs)),
	)
	return len(contactIDs), nil
}
