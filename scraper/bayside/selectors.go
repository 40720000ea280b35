package bayside

// Index page.
const (
	selCard     = "div.col-md-6.has_prop_slider.listing_wrapper.property_unit_type2"
	selCardLink = "h4 a"
	selNextPage = "li.roundright a"
)

// Listing page.
const (
	selTitle      = "h1.property-title"
	selIDSpan     = `span[style="font-size: 18pt;"]`
	selPrice      = `h1[style*="text-align: right; color: #00a7b8;"]`
	selTypeStatus = `.wpestate_estate_property_design_intext_details span[style="font-size: 18pt;"]`
	selAddress    = `[id^="accordion_prop_addr"] .panel-body .listing_detail`
	selDetails    = `[id^="accordion_prop_details"] .panel-body .listing_detail`
	selDesc       = `[id^="collapseDesc"] .panel-body`
	selFeatures   = "div.panel-body div.feature_block_others div.listing_detail:not(.feature_chapter_name)"

	selAgentName  = ".agent_details h3 a"
	selAgentPhone = ".agent_detail.agent_phone_class a"
	selAgentEmail = ".agent_detail.agent_email_class a"
	selAgentPhoto = ".agentpict"
	selAgentBio   = ".agent_position"

	selMainImage   = "#carousel-listing .item.active img"
	selImages      = "#carousel-listing .item img"
	selVirtualTour = `iframe[src*="virtualtour"]`
	selMap         = ".googleMap_shortcode_class"
	selHiddenForm  = `.cf-7-hidden-fields input[type="hidden"]`
)
