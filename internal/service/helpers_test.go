package service

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeDoc decodes a registry document the way the client does
func decodeDoc(t testing.TB, raw string) RawStudy {
	t.Helper()
	var doc RawStudy
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

// studyDoc builds a minimal registry document with the given ID
func studyDoc(id string) RawStudy {
	return RawStudy{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{
				"nctId":      id,
				"briefTitle": fmt.Sprintf("Study %s", id),
			},
		},
	}
}

const fullDoc = `{
  "protocolSection": {
    "identificationModule": {
      "nctId": "NCT01234567",
      "briefTitle": "Adjuvant Therapy in Early Breast Cancer",
      "officialTitle": "A Randomized Phase 3 Study of Adjuvant Therapy"
    },
    "statusModule": {
      "overallStatus": "RECRUITING",
      "studyFirstPostDateStruct": {"date": "2023-05-17", "type": "ACTUAL"}
    },
    "sponsorCollaboratorsModule": {
      "leadSponsor": {"name": "Acme Oncology", "class": "INDUSTRY"}
    },
    "designModule": {
      "phases": ["PHASE3", "PHASE2"],
      "enrollmentInfo": {"count": 420, "type": "ESTIMATED"}
    },
    "contactsLocationsModule": {
      "locations": [
        {"facility": "Site A", "country": "United States"},
        {"facility": "Site B", "country": "Canada"},
        {"facility": "Site C", "country": "United States"}
      ]
    },
    "armsInterventionsModule": {
      "interventions": [
        {"type": "DRUG", "name": "Placebo"},
        {"type": "DRUG", "name": "Acmetinib"}
      ]
    },
    "outcomesModule": {
      "primaryOutcomes": [
        {"measure": "Invasive disease-free survival", "timeFrame": "5 years"}
      ],
      "secondaryOutcomes": [
        {"measure": "Overall survival"},
        {"timeFrame": "1 year"}
      ]
    }
  }
}`

func jsonUnmarshal(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}
