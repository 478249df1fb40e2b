package ipset

import "encoding/xml"

// xml layout printed by `ipset list -output xml`.
type xmlIpsets struct {
	XMLName xml.Name   `xml:"ipsets"`
	Ipset   []xmlIpset `xml:"ipset"`
}

type xmlIpset struct {
	XMLName  xml.Name   `xml:"ipset"`
	Name     string     `xml:"name,attr"`
	Type     string     `xml:"type"`
	Revision int        `xml:"revision"`
	Header   xmlHeader  `xml:"header"`
	Members  xmlMembers `xml:"members"`
}

type xmlHeader struct {
	Family     string `xml:"family"`
	Hashsize   int    `xml:"hashsize"`
	Maxelem    int    `xml:"maxelem"`
	Memsize    int    `xml:"memsize"`
	References int    `xml:"references"`
	Numentries int    `xml:"numentries"`
}

type xmlMembers struct {
	Member []xmlMember `xml:"member"`
}

type xmlMember struct {
	Elem    string `xml:"elem"`
	Timeout *int   `xml:"timeout"`
}

func parseXMLSet(raw []byte) (*xmlIpset, error) {
	var ipsets xmlIpsets
	if err := xml.Unmarshal(raw, &ipsets); err != nil {
		return nil, err
	}
	if len(ipsets.Ipset) == 0 {
		return nil, errNoIpsetData
	}
	return &ipsets.Ipset[0], nil
}
