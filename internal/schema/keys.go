package schema

import "fmt"

// Key identifies one persisted collection. Keys are unique within the store
// namespace and double as the remote document name.
type Key string

const (
	// KeyProfiles holds the []Profile list. Position 0 owns untagged records.
	KeyProfiles Key = "profiles"

	// KeyActiveProfile holds the id of the currently selected profile.
	KeyActiveProfile Key = "activeProfileId"

	// KeyLegacyProfile is the pre multi-profile single object. Read-only.
	KeyLegacyProfile Key = "babyProfile"

	KeyTriedFoods      Key = "triedFoods"
	KeyRecipes         Key = "recipes"
	KeyMealPlan        Key = "mealPlan"
	KeyCustomFoods     Key = "customFoods"
	KeyMilestones      Key = "milestones"
	KeySavedStrategies Key = "savedStrategies"
	KeyShoppingItems   Key = "shoppingItems"
	KeyShoppingChecked Key = "shoppingChecked"
	KeyFeedLogs        Key = "feedLogs"
	KeyDiaperLogs      Key = "diaperLogs"
	KeySleepLogs       Key = "sleepLogs"
	KeyMedicineLogs    Key = "medicineLogs"
	KeyGrowthLogs      Key = "growthLogs"
)

// RecordKeys lists every record collection, in display order. It excludes
// the profile list, the active pointer and the legacy key.
var RecordKeys = []Key{
	KeyTriedFoods,
	KeyRecipes,
	KeyMealPlan,
	KeyCustomFoods,
	KeyMilestones,
	KeySavedStrategies,
	KeyShoppingItems,
	KeyShoppingChecked,
	KeyFeedLogs,
	KeyDiaperLogs,
	KeySleepLogs,
	KeyMedicineLogs,
	KeyGrowthLogs,
}

// SyncedKeys lists every key mirrored to the remote store.
func SyncedKeys() []Key {
	keys := make([]Key, 0, len(RecordKeys)+2)
	keys = append(keys, KeyProfiles, KeyActiveProfile)
	return append(keys, RecordKeys...)
}

// IsRecordKey reports whether k names a record collection.
func IsRecordKey(k Key) bool {
	for _, rk := range RecordKeys {
		if rk == k {
			return true
		}
	}
	return false
}

// ParseRecordKey validates a user supplied collection name.
func ParseRecordKey(s string) (Key, error) {
	k := Key(s)
	if !IsRecordKey(k) {
		return "", fmt.Errorf("unknown collection %q", s)
	}
	return k, nil
}

func (k Key) String() string {
	return string(k)
}
