package xk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coursePayload = `[{id:698241,no:'ECON130003.01',name:'国际金融',teachDepartName:'经济学院',code:'ECON130003',credits:3.0,courseId:38081,examFormName:'闭卷',startWeek:1,endWeek:16,scheduled:true,withdrawable:true,teachers:'郑辉',campusCode:'H',campusName:'邯郸校区',arrangeInfo:[{weekDay:2,weekState:'0111111111111111100000',startUnit:3,endUnit:5,weekStateDigest:'1-16',rooms:'H3208'}]},{id:698246,no:'ECON130004.02',name:'国际贸易',teachDepartName:'经济学院',code:'ECON130004',credits:3.0,courseId:38082,examFormName:'闭卷',scheduled:true,withdrawable:true,teachers:'程大中',campusCode:'H',campusName:'邯郸校区',arrangeInfo:[]}]`

const amountPayload = `{'698241':{sc:70,lc:100},'698246':{sc:89,lc:100}}`

func TestNormalizeJSON(t *testing.T) {
	got := normalizeJSON(`{id:698241,no:'ECON130003.01'}`)
	assert.Equal(t, `{"id":698241,"no":"ECON130003.01"}`, got)
}

func TestParseCourseResponse(t *testing.T) {
	body := "var lessonJSONs = " + coursePayload + ";\nvar lessonAmounts = " + amountPayload + ";"

	courses, err := parseCourseResponse(body)
	require.NoError(t, err)
	require.Len(t, courses, 2)

	assert.Equal(t, 698241, courses[0].ID)
	assert.Equal(t, "ECON130003.01", courses[0].No)
	assert.Equal(t, "国际金融", courses[0].Name)
	assert.Equal(t, 100, courses[0].Amount.Total)
	assert.Equal(t, 70, courses[0].Amount.Selected)
	assert.Equal(t, 89, courses[1].Amount.Selected)
}

func TestParseCourseResponseGarbage(t *testing.T) {
	_, err := parseCourseResponse("<html>session expired</html>")
	assert.Error(t, err)
}

func TestMatchCourse(t *testing.T) {
	courses := []Course{
		{ID: 1, No: "ECON130003.01", Code: "ECON130003", Name: "国际金融"},
		{ID: 2, No: "ECON130004.02", Code: "ECON130004", Name: "国际贸易"},
	}

	id, err := matchCourse(CourseQuery{Name: "国际贸易"}, courses)
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	id, err = matchCourse(CourseQuery{Code: "ECON130003"}, courses)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	_, err = matchCourse(CourseQuery{Name: "不存在"}, courses)
	assert.Error(t, err)
}

func TestCourseQueryForm(t *testing.T) {
	f := CourseQuery{No: "A.01", Code: "A", Name: "课"}.form()
	assert.Equal(t, "A.01", f.Get("lessonNo"))
	assert.Equal(t, "A", f.Get("courseCode"))
	assert.Equal(t, "课", f.Get("courseName"))
}
